package main

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/device/memdev"
	"github.com/gogpu/gpures/geometry"
	"github.com/gogpu/gpures/instancing"
	"github.com/gogpu/gpures/monitor"
	"github.com/gogpu/gpures/pool"
	"github.com/gogpu/gpures/registry"
	"github.com/gogpu/gpures/shader"
)

func init() {
	soakCmd.Flags().IntVarP(&soakFrames, "frames", "n", 600, "Number of frames to simulate")
	soakCmd.Flags().IntVar(&soakGroups, "groups", 8, "Number of instanced geometry groups")
	soakCmd.Flags().IntVar(&soakVariants, "variants", 4, "Number of distinct shader programs")
	soakCmd.Flags().DurationVar(&soakFrameTime, "frame-time", time.Second/60, "Simulated time between frames")
	soakCmd.Flags().StringVarP(&soakFormat, "format", "f", "text", "Metrics output (text, json, line)")
	soakCmd.Flags().StringVar(&influxURL, "influx-url", "", "InfluxDB URL to publish samples to")
	soakCmd.Flags().StringVar(&influxToken, "influx-token", "", "InfluxDB auth token")
	soakCmd.Flags().StringVar(&influxDatabase, "influx-db", "gpures", "InfluxDB database (bucket)")
	rootCmd.AddCommand(soakCmd)
}

var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Simulate frames of instanced drawing on an in-memory device",
	Args:  cobra.NoArgs,
	RunE:  runSoak,
}

var (
	soakFrames     int
	soakGroups     int
	soakVariants   int
	soakFrameTime  time.Duration
	soakFormat     string
	influxURL      string
	influxToken    string
	influxDatabase string
)

const fragmentWGSL = `
@fragment
fn fs_main(@location(0) color: vec4<f32>) -> @location(0) vec4<f32> {
    return color;
}
`

// vertexWGSL returns a vertex shader that scales the base geometry. Each
// scale yields a distinct program.
func vertexWGSL(scale float64) string {
	return fmt.Sprintf(`
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) color: vec4<f32>,
}

@vertex
fn vs_main(
    @location(0) corner: vec2<f32>,
    @location(1) offset: vec2<f32>,
    @location(2) color: vec4<f32>,
) -> VertexOutput {
    var out: VertexOutput;
    out.position = vec4<f32>(corner * %.2f + offset, 0.0, 1.0);
    out.color = color;
    return out;
}
`, scale)
}

// quad is two triangles covering the unit square.
var quad = []float32{
	0, 0, 1, 0, 1, 1,
	0, 0, 1, 1, 0, 1,
}

// instanceLayout is an offset followed by an RGBA color.
var instanceLayout = []device.Attribute{
	{Location: 1, Components: 2},
	{Location: 2, Components: 4},
}

type soak struct {
	dev       *memdev.Device
	reg       *registry.Registry
	buffers   *pool.BufferPool
	textures  *pool.TexturePool
	programs  *shader.Cache
	instances *instancing.Manager
	meshes    *geometry.Cache
	mon       *monitor.Monitor
	enc       *memdev.Encoder

	groups []int
}

func newSoak(cfg gpures.Config, opts ...memdev.Option) *soak {
	dev := memdev.New(opts...)
	reg := registry.New(dev)
	s := &soak{
		dev:      dev,
		reg:      reg,
		buffers:  pool.NewBufferPool(reg, pool.OptionsFromConfig(cfg.Pool)),
		textures: pool.NewTexturePool(reg, pool.OptionsFromConfig(cfg.Pool)),
		enc:      memdev.NewEncoder(),
	}

	monOpts := monitor.OptionsFromConfig(cfg.Monitor)
	monOpts.Buffers = s.buffers
	monOpts.Textures = s.textures
	monOpts.Registry = reg
	s.mon = monitor.New(monOpts)

	cacheOpts := shader.OptionsFromConfig(cfg.Shader)
	cacheOpts.Observer = s.mon
	s.programs = shader.NewCache(reg, cacheOpts)
	s.instances = instancing.New(s.buffers, dev, instancing.Options{Observer: s.mon})
	s.meshes = geometry.New(s.buffers, dev, geometry.OptionsFromConfig(cfg.Geometry))
	s.mon.WatchPrograms(s.programs)
	s.mon.WatchInstances(s.instances)
	return s
}

// close releases everything in dependency order and returns the number of
// handles the device still holds afterwards.
func (s *soak) close() int {
	s.instances.Dispose()
	s.meshes.Close()
	s.programs.Close()
	s.buffers.Close()
	s.textures.Close()
	s.reg.DisposeAll()

	live := 0
	for k := memdev.KindBuffer; k <= memdev.KindFramebuffer; k++ {
		live += s.dev.Live(k)
	}
	return live
}

// instanceData lays out n instances on a ring that turns with the frame.
func instanceData(n, frame int) []float32 {
	data := make([]float32, 0, n*device.Stride(instanceLayout))
	for i := range n {
		a := 2 * math.Pi * (float64(i)/float64(n) + float64(frame)/360)
		r := float32(i%4) / 4
		data = append(data,
			float32(math.Cos(a)), float32(math.Sin(a)),
			r, 1-r, 0.5, 1,
		)
	}
	return data
}

// ring returns a triangle fan around the origin with segments outer
// vertices, indexed and texture mapped.
func ring(segments int) geometry.Data {
	d := geometry.Data{
		Vertices:  []float32{0, 0},
		TexCoords: []float32{0.5, 0.5},
	}
	n := uint32(segments) //nolint:gosec // segments is small
	for i := range n {
		a := 2 * math.Pi * float64(i) / float64(n)
		x, y := float32(math.Cos(a)), float32(math.Sin(a))
		d.Vertices = append(d.Vertices, x, y)
		d.TexCoords = append(d.TexCoords, (x+1)/2, (y+1)/2)
		d.Indices = append(d.Indices, 0, i+1, (i+1)%n+1)
	}
	return d
}

// sprite returns a small gradient image used to exercise texture uploads.
func sprite(size int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / size), G: uint8(y * 255 / size), B: 128, A: 255})
		}
	}
	return img
}

func (s *soak) setup(groups int) error {
	for g := range groups {
		id, err := s.instances.CreateInstance(quad, instanceData(4+g, 0), instanceLayout)
		if err != nil {
			return fmt.Errorf("create group %d: %w", g, err)
		}
		s.groups = append(s.groups, id)
	}
	return nil
}

// frame simulates one frame: a few transient buffers and textures, a
// program lookup per group, updated instance data and one draw per group.
func (s *soak) frame(i, variants int, ts time.Time) error {
	s.mon.BeginFrame()

	scratch, err := s.buffers.RequestBuffer(pool.BufferRequest{Size: 256 << (i % 4), Usage: device.DynamicUniform})
	if err != nil {
		return err
	}
	defer s.buffers.ReleaseBuffer(scratch, device.DynamicUniform)

	if i%30 == 0 {
		tex, err := s.textures.RequestImage(sprite(16+16*(i/30%3)), device.DefaultTextureFormat)
		if err != nil {
			return err
		}
		defer s.textures.ReleaseTexture(tex, device.DefaultTextureFormat)
	}

	if i%10 == 0 {
		// A new ring pattern every two simulated seconds; older ones expire.
		segments := 6 + 2*(i/120%8)
		if _, err := s.meshes.Get(geometry.Key("ring", i/120%8, segments+1), func() (geometry.Data, error) {
			return ring(segments), nil
		}); err != nil {
			return err
		}
	}

	for g, id := range s.groups {
		variant := (g + i/60) % variants
		if _, err := s.programs.GetProgram(shader.ProgramConfig{
			VertexSource:   vertexWGSL(0.05 * float64(variant+1)),
			FragmentSource: fragmentWGSL,
		}); err != nil {
			return err
		}
		// Groups grow and shrink so instance buffers are reallocated.
		n := 4 + g + (i/20+g)%16
		if err := s.instances.UpdateInstanceData(id, instanceData(n, i)); err != nil {
			return err
		}
		if err := s.instances.DrawInstanced(s.enc, id, device.TopologyTriangles, uint32(len(quad)/2)); err != nil {
			return err
		}
	}

	s.mon.RecordFrame(ts)
	if s.mon.ShouldShrink() {
		s.mon.Shrink()
	}
	return nil
}

func runSoak(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if soakVariants < 1 {
		return fmt.Errorf("--variants must be at least 1")
	}

	s := newSoak(cfg)
	log := gpures.Logger()
	log.Info("soak starting", "frames", soakFrames, "groups", soakGroups, "variants", soakVariants)

	if err := s.setup(soakGroups); err != nil {
		s.close()
		return err
	}
	start := time.Now()
	for i := range soakFrames {
		if err := s.frame(i, soakVariants, start.Add(time.Duration(i)*soakFrameTime)); err != nil {
			s.close()
			return fmt.Errorf("frame %d: %w", i, err)
		}
	}
	log.Info("soak finished", "elapsed", time.Since(start))

	out := cmd.OutOrStdout()
	if err := report(out, s); err != nil {
		s.close()
		return err
	}

	if influxURL != "" {
		client := influxdb2.NewClient(influxURL, influxToken)
		n := s.mon.Publish(client.WriteAPI("", influxDatabase), map[string]string{"source": "gpuresdemo"})
		client.Close()
		log.Info("published samples", "points", n, "url", influxURL)
	}

	if live := s.close(); live != 0 {
		return fmt.Errorf("%d device objects leaked", live)
	}
	return nil
}

func report(w io.Writer, s *soak) error {
	switch soakFormat {
	case "json":
		doc, err := s.mon.ExportJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", doc)
		return err
	case "line":
		return s.mon.WriteLineProtocol(w, map[string]string{"source": "gpuresdemo"})
	case "text":
	default:
		return fmt.Errorf("unknown format %q", soakFormat)
	}

	p := message.NewPrinter(language.English)
	cur := s.mon.Current()
	bs, ts, ps := s.buffers.Stats(), s.textures.Stats(), s.programs.Stats()
	p.Fprintf(w, "frames:        %d (%.1f fps)\n", soakFrames, cur.FPS)
	p.Fprintf(w, "draw calls:    %d\n", cur.TotalDrawCalls)
	p.Fprintf(w, "instances:     %d in %d groups\n", cur.ResourceCounts.InstancesDrawn, cur.ResourceCounts.Instances)
	p.Fprintf(w, "buffers:       %d pooled, %d in use, %d bytes, %d evicted\n", bs.Entries, bs.InUse, bs.Bytes, bs.Evictions)
	p.Fprintf(w, "textures:      %d pooled, %d in use, %d bytes, %d evicted\n", ts.Entries, ts.InUse, ts.Bytes, ts.Evictions)
	p.Fprintf(w, "programs:      %s\n", ps)
	p.Fprintf(w, "meshes:        %s\n", s.meshes.Stats())
	p.Fprintf(w, "handles:       %s\n", s.reg.Counts())
	caps := s.dev.Capabilities()
	p.Fprintf(w, "renderer:      %s %s (max texture %d)\n", caps.Vendor, caps.Renderer, caps.MaxTextureSize)
	p.Fprintf(w, "device:        %d buffers and %d textures created\n",
		s.dev.Created(memdev.KindBuffer), s.dev.Created(memdev.KindTexture))
	p.Fprintf(w, "samples:       %d\n", len(s.mon.History()))
	return nil
}
