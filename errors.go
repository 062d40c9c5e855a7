// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gogpu/gpures/device"
)

// Sentinel errors. Typed errors below match these with errors.Is.
var (
	// ErrInvalidSize is returned when a requested size is zero or negative.
	ErrInvalidSize = errors.New("gpures: invalid size")

	// ErrClosed is returned when a request reaches a closed pool or cache.
	ErrClosed = errors.New("gpures: closed")

	// ErrAllocationFailed is matched by every *AllocationError.
	ErrAllocationFailed = errors.New("gpures: allocation failed")

	// ErrCompileFailed is matched by every *CompileError.
	ErrCompileFailed = errors.New("gpures: shader compilation failed")

	// ErrLinkFailed is matched by every *LinkError.
	ErrLinkFailed = errors.New("gpures: program link failed")

	// ErrNotFound is matched by every *NotFoundError.
	ErrNotFound = errors.New("gpures: not found")
)

// AllocationError reports that the device could not create a resource.
// It is never retried by this module.
type AllocationError struct {
	// Resource is the kind of object, e.g. "buffer" or "texture".
	Resource string

	// Size is the requested size in bytes, when known.
	Size int

	// Err is the device error, nil when the device returned InvalidID.
	Err error
}

func (e *AllocationError) Error() string {
	var b strings.Builder
	b.WriteString("gpures: allocate ")
	b.WriteString(e.Resource)
	if e.Size > 0 {
		fmt.Fprintf(&b, " (%d bytes)", e.Size)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(": device returned invalid handle")
	}
	return b.String()
}

// Is reports whether target is ErrAllocationFailed.
func (e *AllocationError) Is(target error) bool { return target == ErrAllocationFailed }

// Unwrap returns the device error.
func (e *AllocationError) Unwrap() error { return e.Err }

// CompileError reports a shader stage that failed to compile.
type CompileError struct {
	Stage device.Stage

	// Log is the raw compiler diagnostic.
	Log string

	// Line is the 1-based source line of the first diagnostic, or 0 when
	// the log could not be parsed.
	Line int

	// SourceLine is the offending line of source text, trimmed.
	SourceLine string
}

func (e *CompileError) Error() string {
	if e.SourceLine != "" {
		return fmt.Sprintf("gpures: %s shader compile failed at line %d (%s): %s",
			e.Stage, e.Line, e.SourceLine, firstLine(e.Log))
	}
	if e.Line > 0 {
		return fmt.Sprintf("gpures: %s shader compile failed at line %d: %s",
			e.Stage, e.Line, firstLine(e.Log))
	}
	return fmt.Sprintf("gpures: %s shader compile failed: %s", e.Stage, firstLine(e.Log))
}

// Is reports whether target is ErrCompileFailed.
func (e *CompileError) Is(target error) bool { return target == ErrCompileFailed }

// LinkError reports a program that failed to link.
type LinkError struct {
	Log string
}

func (e *LinkError) Error() string {
	return "gpures: program link failed: " + firstLine(e.Log)
}

// Is reports whether target is ErrLinkFailed.
func (e *LinkError) Is(target error) bool { return target == ErrLinkFailed }

// NotFoundError reports an id unknown to a subsystem.
type NotFoundError struct {
	Kind string
	ID   uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("gpures: %s %d not found", e.Kind, e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// glslDiagnostic matches the "ERROR: <string>:<line>: <message>" format
// produced by GLSL reference compilers and most WebGL drivers.
var glslDiagnostic = regexp.MustCompile(`ERROR: \d+:(\d+): (.*)`)

// NewCompileError builds a CompileError from a driver log, locating the
// first diagnostic line in source when the log carries one.
func NewCompileError(stage device.Stage, source, log string) *CompileError {
	e := &CompileError{Stage: stage, Log: strings.TrimSpace(log)}
	m := glslDiagnostic.FindStringSubmatch(log)
	if m == nil {
		return e
	}
	line, err := strconv.Atoi(m[1])
	if err != nil || line <= 0 {
		return e
	}
	e.Line = line
	lines := strings.Split(source, "\n")
	if line <= len(lines) {
		e.SourceLine = strings.TrimSpace(lines[line-1])
	}
	return e
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
