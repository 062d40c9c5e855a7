package monitor

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/device/memdev"
	"github.com/gogpu/gpures/instancing"
	"github.com/gogpu/gpures/pool"
	"github.com/gogpu/gpures/registry"
)

var epoch = time.Unix(1_700_000_000, 0)

func TestRecordFrameFPS(t *testing.T) {
	m := New(Options{FPSWindow: time.Second})

	// ~60 fps; the 62nd frame is the first past the one second window.
	step := time.Second / 60
	for i := 0; i <= 61; i++ {
		m.RecordFrame(epoch.Add(time.Duration(i) * step))
	}

	cur := m.Current()
	if cur.FPS < 59 || cur.FPS > 62 {
		t.Errorf("FPS = %.2f, want ~60", cur.FPS)
	}
	if got, want := cur.FrameTimeMS, float64(step)/float64(time.Millisecond); got != want {
		t.Errorf("FrameTimeMS = %v, want %v", got, want)
	}
	if n := len(m.History()); n != 1 {
		t.Errorf("len(History()) = %d, want 1", n)
	}
}

func TestRecordFrameNoSampleBeforeWindow(t *testing.T) {
	m := New(Options{FPSWindow: time.Second})
	for i := 0; i < 10; i++ {
		m.RecordFrame(epoch.Add(time.Duration(i) * 10 * time.Millisecond))
	}
	if n := len(m.History()); n != 0 {
		t.Errorf("len(History()) = %d, want 0", n)
	}
	if fps := m.Current().FPS; fps != 0 {
		t.Errorf("FPS = %v, want 0 before first window", fps)
	}
}

func TestHistoryLimit(t *testing.T) {
	m := New(Options{FPSWindow: time.Second, HistoryLimit: 3})
	for i := 0; i <= 10; i++ {
		m.RecordFrame(epoch.Add(time.Duration(i) * time.Second))
	}
	h := m.History()
	if len(h) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(h))
	}
	if want := epoch.Add(10 * time.Second); !h[2].Timestamp.Equal(want) {
		t.Errorf("newest sample at %v, want %v", h[2].Timestamp, want)
	}
	if want := epoch.Add(8 * time.Second); !h[0].Timestamp.Equal(want) {
		t.Errorf("oldest sample at %v, want %v", h[0].Timestamp, want)
	}
}

func TestDrawCallsPerFrame(t *testing.T) {
	now := epoch
	m := New(Options{Now: func() time.Time { return now }})

	m.BeginFrame()
	m.TrackDrawCall()
	m.TrackDrawCall()
	m.TrackDrawCall()
	m.EndFrame()

	now = now.Add(16 * time.Millisecond)
	m.BeginFrame()
	m.TrackDrawCall()
	m.EndFrame()

	cur := m.Current()
	if cur.DrawCalls != 1 {
		t.Errorf("DrawCalls = %d, want 1 (last frame)", cur.DrawCalls)
	}
	if cur.TotalDrawCalls != 4 {
		t.Errorf("TotalDrawCalls = %d, want 4", cur.TotalDrawCalls)
	}
	if cur.FrameTimeMS != 16 {
		t.Errorf("FrameTimeMS = %v, want 16", cur.FrameTimeMS)
	}
}

func TestTrackShaderCompile(t *testing.T) {
	m := New(Options{})
	m.TrackShaderCompile(1500 * time.Microsecond)
	m.TrackShaderCompile(500 * time.Microsecond)
	if got := m.Current().ShaderCompileMS; got != 2 {
		t.Errorf("ShaderCompileMS = %v, want 2", got)
	}
}

type fixture struct {
	mon       *Monitor
	buffers   *pool.BufferPool
	textures  *pool.TexturePool
	instances *instancing.Manager
}

func newFixture(t *testing.T, budget int64) fixture {
	t.Helper()
	dev := memdev.New()
	reg := registry.New(dev)
	buffers := pool.NewBufferPool(reg, pool.Options{MaxPoolSize: 1, CleanupInterval: -1})
	textures := pool.NewTexturePool(reg, pool.Options{MaxPoolSize: 1, CleanupInterval: -1})
	t.Cleanup(func() {
		buffers.Close()
		textures.Close()
		reg.DisposeAll()
	})
	f := fixture{buffers: buffers, textures: textures}
	f.mon = New(Options{
		Buffers:      buffers,
		Textures:     textures,
		Registry:     reg,
		MemoryBudget: budget,
	})
	f.instances = instancing.New(buffers, dev, instancing.Options{Observer: f.mon})
	f.mon.WatchInstances(f.instances)
	return f
}

func TestCurrentResourceFigures(t *testing.T) {
	f := newFixture(t, 0)
	_, _ = f.buffers.RequestBuffer(pool.BufferRequest{Size: 100, Usage: device.StaticIndex})
	_, _ = f.textures.RequestTexture(pool.TextureRequest{Width: 4, Height: 4})
	id, err := f.instances.CreateInstance([]float32{0, 0, 1, 1}, []float32{1, 2, 3, 4}, []device.Attribute{{Location: 1, Components: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.instances.DrawInstanced(memdev.NewEncoder(), id, device.TopologyPoints, 1); err != nil {
		t.Fatal(err)
	}

	cur := f.mon.Current()
	if got, want := cur.MemoryUsage.GeometryBuffers, int64(100+16+16); got != want {
		t.Errorf("GeometryBuffers = %d, want %d", got, want)
	}
	if got := cur.MemoryUsage.TextureMemory; got != 64 {
		t.Errorf("TextureMemory = %d, want 64", got)
	}
	if cur.MemoryUsage.TotalMemory != cur.MemoryUsage.GeometryBuffers+cur.MemoryUsage.TextureMemory {
		t.Errorf("TotalMemory = %d, want sum", cur.MemoryUsage.TotalMemory)
	}
	rc := cur.ResourceCounts
	if rc.Buffers != 3 || rc.Textures != 1 || rc.Instances != 1 || rc.InstancesDrawn != 2 || rc.Handles != 4 {
		t.Errorf("ResourceCounts = %+v", rc)
	}
	if cur.TotalDrawCalls != 1 {
		t.Errorf("TotalDrawCalls = %d, want 1", cur.TotalDrawCalls)
	}
}

func TestShouldShrinkAndShrink(t *testing.T) {
	f := newFixture(t, 256)
	var ids []device.BufferID
	for i := 0; i < 4; i++ {
		id, _ := f.buffers.RequestBuffer(pool.BufferRequest{Size: 100, Usage: device.DynamicVertex})
		ids = append(ids, id)
	}
	if !f.mon.ShouldShrink() {
		t.Fatal("ShouldShrink() = false at 400 bytes over 256 budget")
	}
	for _, id := range ids {
		f.buffers.ReleaseBuffer(id, device.DynamicVertex)
	}
	if got := f.mon.Shrink(); got != 3 {
		t.Errorf("Shrink() = %d, want 3", got)
	}
	if f.mon.ShouldShrink() {
		t.Error("ShouldShrink() = true after Shrink")
	}
}

func TestShouldShrinkDisabled(t *testing.T) {
	f := newFixture(t, 0)
	_, _ = f.buffers.RequestBuffer(pool.BufferRequest{Size: 1 << 20, Usage: device.DynamicVertex})
	if f.mon.ShouldShrink() {
		t.Error("ShouldShrink() = true with no budget")
	}
}

func TestExportJSON(t *testing.T) {
	m := New(Options{FPSWindow: time.Second})
	m.RecordFrame(epoch)
	m.RecordFrame(epoch.Add(time.Second))

	data, err := m.ExportJSON()
	if err != nil {
		t.Fatalf("ExportJSON() error = %v", err)
	}
	var doc struct {
		Current struct {
			FPS         float64 `json:"fps"`
			MemoryUsage struct {
				TotalMemory int64 `json:"totalMemory"`
			} `json:"memoryUsage"`
		} `json:"current"`
		History []struct {
			Timestamp time.Time `json:"timestamp"`
		} `json:"history"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	if doc.Current.FPS != 2 {
		t.Errorf("current.fps = %v, want 2", doc.Current.FPS)
	}
	if len(doc.History) != 1 {
		t.Errorf("len(history) = %d, want 1", len(doc.History))
	}
}

func TestExportJSONEmptyHistory(t *testing.T) {
	data, err := New(Options{}).ExportJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(data, []byte(`"history": []`)) {
		t.Errorf("ExportJSON() = %s, want empty history array", data)
	}
}

func TestWriteLineProtocol(t *testing.T) {
	m := New(Options{FPSWindow: time.Second})
	m.RecordFrame(epoch)
	m.RecordFrame(epoch.Add(time.Second))
	m.RecordFrame(epoch.Add(2 * time.Second))

	var buf bytes.Buffer
	if err := m.WriteLineProtocol(&buf, map[string]string{"host": "ci"}); err != nil {
		t.Fatalf("WriteLineProtocol() error = %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "gpures,host=ci ") {
		t.Errorf("line protocol = %q, want gpures,host=ci prefix", out)
	}
	if n := strings.Count(out, "gpures,host=ci "); n != 2 {
		t.Errorf("points = %d, want 2", n)
	}
	if !strings.Contains(out, "fps=1") {
		t.Errorf("line protocol = %q, want fps field", out)
	}
}

type recordingWriter struct {
	points  []*write.Point
	flushed bool
}

func (w *recordingWriter) WritePoint(p *write.Point) { w.points = append(w.points, p) }
func (w *recordingWriter) Flush()                    { w.flushed = true }

func TestPublish(t *testing.T) {
	m := New(Options{FPSWindow: time.Second})
	m.RecordFrame(epoch)
	m.RecordFrame(epoch.Add(time.Second))

	w := &recordingWriter{}
	if n := m.Publish(w, nil); n != 1 {
		t.Errorf("Publish() = %d, want 1", n)
	}
	if len(w.points) != 1 || !w.flushed {
		t.Errorf("writer got %d points, flushed=%v", len(w.points), w.flushed)
	}
	if name := w.points[0].Name(); name != Measurement {
		t.Errorf("point name = %q, want %q", name, Measurement)
	}
}

func TestReset(t *testing.T) {
	m := New(Options{FPSWindow: time.Second})
	m.TrackDrawCall()
	m.RecordFrame(epoch)
	m.RecordFrame(epoch.Add(time.Second))
	m.Reset()

	cur := m.Current()
	if cur.FPS != 0 || cur.TotalDrawCalls != 0 || len(m.History()) != 0 {
		t.Errorf("after Reset: %+v, history %d", cur, len(m.History()))
	}
}
