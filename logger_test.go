package gpures_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/device/memdev"
	"github.com/gogpu/gpures/pool"
	"github.com/gogpu/gpures/registry"
)

// recorder keeps every record at or above level.
type recorder struct {
	mu      sync.Mutex
	level   slog.Level
	records []slog.Record
}

func (r *recorder) Enabled(_ context.Context, l slog.Level) bool { return l >= r.level }

func (r *recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec.Clone())
	return nil
}

func (r *recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *recorder) WithGroup(string) slog.Handler      { return r }

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Message
	}
	return out
}

func (r *recorder) find(msg string) (slog.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		if rec.Message == msg {
			return rec, true
		}
	}
	return slog.Record{}, false
}

func install(t *testing.T, level slog.Level) *recorder {
	t.Helper()
	orig := gpures.Logger()
	t.Cleanup(func() { gpures.SetLogger(orig) })
	rec := &recorder{level: level}
	gpures.SetLogger(slog.New(rec))
	return rec
}

func newPools(t *testing.T) (*pool.BufferPool, *pool.TexturePool) {
	t.Helper()
	reg := registry.New(memdev.New())
	opts := pool.Options{CleanupInterval: -1}
	buffers := pool.NewBufferPool(reg, opts)
	textures := pool.NewTexturePool(reg, opts)
	t.Cleanup(func() {
		buffers.Close()
		textures.Close()
	})
	return buffers, textures
}

func TestLoggerSilentByDefault(t *testing.T) {
	l := gpures.Logger()
	if l == nil {
		t.Fatal("Logger() = nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("Logger().Enabled(%v) = true, want false", level)
		}
	}
}

func TestUnknownReleaseWarns(t *testing.T) {
	tests := []struct {
		name    string
		release func(*pool.BufferPool, *pool.TexturePool)
		want    string
		wantID  string
	}{
		{
			name: "buffer",
			release: func(b *pool.BufferPool, _ *pool.TexturePool) {
				b.ReleaseBuffer(41, device.StaticVertex)
			},
			want:   "pool: release of unknown buffer",
			wantID: "41",
		},
		{
			name: "texture",
			release: func(_ *pool.BufferPool, tp *pool.TexturePool) {
				tp.ReleaseTexture(7, gputypes.TextureFormatRGBA8Unorm)
			},
			want:   "pool: release of unknown texture",
			wantID: "7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := install(t, slog.LevelWarn)
			buffers, textures := newPools(t)

			tt.release(buffers, textures)

			r, ok := rec.find(tt.want)
			if !ok {
				t.Fatalf("records = %q, want %q", rec.messages(), tt.want)
			}
			if r.Level != slog.LevelWarn {
				t.Errorf("level = %v, want %v", r.Level, slog.LevelWarn)
			}
			var gotID string
			r.Attrs(func(a slog.Attr) bool {
				if a.Key == "id" {
					gotID = a.Value.String()
					return false
				}
				return true
			})
			if gotID != tt.wantID {
				t.Errorf("id attr = %q, want %q", gotID, tt.wantID)
			}
		})
	}
}

func TestLoggerLevelFiltersPoolTraffic(t *testing.T) {
	rec := install(t, slog.LevelWarn)
	buffers, _ := newPools(t)

	id, err := buffers.RequestBuffer(pool.BufferRequest{Size: 64, Usage: device.StaticVertex})
	if err != nil {
		t.Fatalf("RequestBuffer() error = %v", err)
	}
	buffers.ReleaseBuffer(id, device.StaticVertex)
	if _, err := buffers.RequestBuffer(pool.BufferRequest{Size: 64, Usage: device.StaticVertex}); err != nil {
		t.Fatalf("RequestBuffer() error = %v", err)
	}

	if got := rec.messages(); len(got) != 0 {
		t.Errorf("records at warn level = %q, want none", got)
	}

	debug := install(t, slog.LevelDebug)
	buffers.ReleaseBuffer(id, device.StaticVertex)
	if _, err := buffers.RequestBuffer(pool.BufferRequest{Size: 32, Usage: device.StaticVertex}); err != nil {
		t.Fatalf("RequestBuffer() error = %v", err)
	}
	if _, ok := debug.find("pool: buffer reused"); !ok {
		t.Errorf("records = %q, want %q", debug.messages(), "pool: buffer reused")
	}
}

func TestSetLoggerNilSilences(t *testing.T) {
	rec := install(t, slog.LevelDebug)
	buffers, _ := newPools(t)

	gpures.SetLogger(nil)
	buffers.ReleaseBuffer(99, device.DynamicVertex)

	if got := rec.messages(); len(got) != 0 {
		t.Errorf("records after SetLogger(nil) = %q, want none", got)
	}
	if gpures.Logger().Enabled(context.Background(), slog.LevelError) {
		t.Error("Logger().Enabled(Error) after SetLogger(nil) = true, want false")
	}
}
