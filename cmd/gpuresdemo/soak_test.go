package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/device/memdev"
)

func acceptAll(device.Stage, string) (string, bool) { return "", true }

func TestSoakLeavesNothingBehind(t *testing.T) {
	s := newSoak(gpures.DefaultConfig(), memdev.WithCompiler(acceptAll))
	if err := s.setup(3); err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	start := time.Unix(0, 0)
	for i := range 90 {
		if err := s.frame(i, 2, start.Add(time.Duration(i)*time.Second/60)); err != nil {
			t.Fatalf("frame(%d) error = %v", i, err)
		}
	}

	if got := len(s.enc.Draws()); got != 270 {
		t.Errorf("draws = %d, want 270", got)
	}
	if got := s.programs.Len(); got != 2 {
		t.Errorf("programs = %d, want 2", got)
	}
	if got := len(s.mon.History()); got != 1 {
		t.Errorf("samples = %d, want 1", got)
	}
	if ms := s.meshes.Stats(); ms.Meshes != 1 || ms.Misses != 1 || ms.Hits != 8 {
		t.Errorf("meshes = %v, want 1 mesh built once and 8 hits", ms)
	}
	if live := s.close(); live != 0 {
		t.Errorf("close() left %d live objects, want 0", live)
	}
}

func TestReportFormats(t *testing.T) {
	s := newSoak(gpures.DefaultConfig(), memdev.WithCompiler(acceptAll))
	defer s.close()
	if err := s.setup(1); err != nil {
		t.Fatalf("setup() error = %v", err)
	}
	for i := range 62 {
		if err := s.frame(i, 1, time.Unix(0, 0).Add(time.Duration(i)*time.Second/60)); err != nil {
			t.Fatalf("frame(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		format string
		want   string
	}{
		{"text", "draw calls:"},
		{"text", "renderer:      gogpu memdev"},
		{"json", `"history"`},
		{"line", "gpures,source=gpuresdemo "},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			soakFormat = tt.format
			defer func() { soakFormat = "text" }()
			var buf bytes.Buffer
			if err := report(&buf, s); err != nil {
				t.Fatalf("report() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("report() = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}

	soakFormat = "yaml"
	defer func() { soakFormat = "text" }()
	if err := report(&bytes.Buffer{}, s); err == nil {
		t.Error("report() with unknown format error = nil, want error")
	}
}

func TestVertexVariantsDiffer(t *testing.T) {
	if vertexWGSL(0.05) == vertexWGSL(0.10) {
		t.Error("vertexWGSL() returned the same source for different scales")
	}
	if !strings.Contains(vertexWGSL(0.05), "fn vs_main") {
		t.Error("vertexWGSL() lacks vs_main")
	}
}
