package registry

import (
	"errors"
	"testing"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/device/memdev"
)

func populate(t *testing.T, r *Registry, perKind int) {
	t.Helper()
	for i := 0; i < perKind; i++ {
		if _, err := r.CreateBuffer(16, device.StaticVertex); err != nil {
			t.Fatal(err)
		}
		if _, err := r.CreateTexture(device.TextureDescriptor{Width: 2, Height: 2}); err != nil {
			t.Fatal(err)
		}
		if _, err := r.CreateShader(device.StageVertex); err != nil {
			t.Fatal(err)
		}
		if _, err := r.CreateProgram(); err != nil {
			t.Fatal(err)
		}
		if _, err := r.CreateFramebuffer(8, 8); err != nil {
			t.Fatal(err)
		}
	}
}

func TestDisposeAllOrder(t *testing.T) {
	dev := memdev.New()
	r := New(dev)
	populate(t, r, 3)

	if got := r.Counts(); got != (Counts{3, 3, 3, 3, 3}) {
		t.Fatalf("Counts() = %v, want 3 of each", got)
	}

	r.DisposeAll()

	if n := r.Len(); n != 0 {
		t.Errorf("Len() after DisposeAll = %d, want 0", n)
	}

	rank := map[memdev.Kind]int{
		memdev.KindFramebuffer: 0,
		memdev.KindProgram:     1,
		memdev.KindShader:      2,
		memdev.KindTexture:     3,
		memdev.KindBuffer:      4,
	}
	destroyed := dev.Destroyed()
	if len(destroyed) != 15 {
		t.Fatalf("len(Destroyed()) = %d, want 15", len(destroyed))
	}
	for i := 1; i < len(destroyed); i++ {
		prev, cur := destroyed[i-1], destroyed[i]
		if rank[cur.Kind] < rank[prev.Kind] {
			t.Errorf("destroy order: %v after %v", cur, prev)
		}
		if cur.Kind == prev.Kind && cur.ID < prev.ID {
			t.Errorf("destroy order within %v: %d after %d", cur.Kind, cur.ID, prev.ID)
		}
	}

	for _, k := range []memdev.Kind{memdev.KindBuffer, memdev.KindTexture, memdev.KindShader, memdev.KindProgram, memdev.KindFramebuffer} {
		if n := dev.Live(k); n != 0 {
			t.Errorf("dev.Live(%v) = %d, want 0", k, n)
		}
	}
}

func TestDisposeAllIdempotent(t *testing.T) {
	dev := memdev.New()
	r := New(dev)
	populate(t, r, 1)

	r.DisposeAll()
	before := len(dev.Calls())
	r.DisposeAll()
	if after := len(dev.Calls()); after != before {
		t.Errorf("second DisposeAll issued %d calls, want 0", after-before)
	}

	// Still usable.
	if _, err := r.CreateBuffer(4, device.StaticVertex); err != nil {
		t.Fatalf("CreateBuffer() after DisposeAll error = %v", err)
	}
	if n := r.Len(); n != 1 {
		t.Errorf("Len() = %d, want 1", n)
	}
}

func TestDestroyUntrackedIsNoop(t *testing.T) {
	dev := memdev.New()
	r := New(dev)

	// Created directly on the device, never tracked.
	id, _ := dev.CreateBuffer(8, device.StaticVertex)
	r.DestroyBuffer(id)
	if n := dev.Live(memdev.KindBuffer); n != 1 {
		t.Errorf("dev.Live(buffer) = %d, want 1 (untracked destroy must not reach device)", n)
	}

	r.TrackBuffer(id)
	if !r.HasBuffer(id) {
		t.Fatal("HasBuffer() = false after TrackBuffer")
	}
	r.DestroyBuffer(id)
	r.DestroyBuffer(id)
	if n := dev.Live(memdev.KindBuffer); n != 0 {
		t.Errorf("dev.Live(buffer) = %d, want 0", n)
	}
	if len(dev.Destroyed()) != 1 {
		t.Errorf("destroy calls = %d, want 1", len(dev.Destroyed()))
	}
}

func TestTrackInvalidIgnored(t *testing.T) {
	r := New(memdev.New())
	r.TrackTexture(device.InvalidID)
	if n := r.Len(); n != 0 {
		t.Errorf("Len() = %d, want 0", n)
	}
}

func TestCreateFailures(t *testing.T) {
	tests := []struct {
		name string
		hook func(memdev.Kind, int) error
	}{
		{"device error", func(memdev.Kind, int) error { return errors.New("out of memory") }},
		{"null handle", func(memdev.Kind, int) error { return memdev.ErrNullHandle }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(memdev.New(memdev.WithFailCreate(tt.hook)))

			_, err := r.CreateBuffer(32, device.StaticVertex)
			var alloc *gpures.AllocationError
			if !errors.As(err, &alloc) {
				t.Fatalf("CreateBuffer() error = %v, want *AllocationError", err)
			}
			if alloc.Resource != "buffer" || alloc.Size != 32 {
				t.Errorf("AllocationError = %+v, want buffer/32", alloc)
			}
			if _, err := r.CreateProgram(); !errors.Is(err, gpures.ErrAllocationFailed) {
				t.Errorf("CreateProgram() error = %v, want ErrAllocationFailed", err)
			}
			if n := r.Len(); n != 0 {
				t.Errorf("Len() = %d, want 0", n)
			}
		})
	}
}

func TestCountsString(t *testing.T) {
	c := Counts{Buffers: 1, Textures: 2}
	want := "Registry[1 buffers, 2 textures, 0 shaders, 0 programs, 0 framebuffers]"
	if got := c.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if c.Total() != 3 {
		t.Errorf("Total() = %d, want 3", c.Total())
	}
}
