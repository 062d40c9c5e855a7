package pool

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/draw"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/device"
	"github.com/gogpu/gpures/internal/sweep"
	"github.com/gogpu/gpures/registry"
)

// ErrUnsupportedFormat is returned by RequestImage for formats it cannot
// convert pixels to.
var ErrUnsupportedFormat = errors.New("pool: unsupported image format")

// TextureRequest describes the texture a caller needs.
type TextureRequest struct {
	Width  int
	Height int

	// Format is the pixel format. Zero means RGBA8Unorm.
	Format gputypes.TextureFormat

	// Mipmaps requests a full mip chain. Only pooled textures that have one
	// can serve such a request; textures with a mip chain also serve
	// requests without.
	Mipmaps bool
}

type extent struct {
	width, height int
	bpp           int
	mipmaps       bool
}

func (have extent) fits(want extent) bool {
	return have.width >= want.width && have.height >= want.height && (have.mipmaps || !want.mipmaps)
}

// bytes estimates the texture size; a full mip chain adds a third.
func (e extent) bytes() int {
	n := e.width * e.height * e.bpp
	if e.mipmaps {
		n += n / 3
	}
	return n
}

// TexturePool reuses 2D textures, grouped by pixel format.
//
// A pooled texture serves a request when it is at least as wide and as
// tall as requested. When the registry's device reports Capabilities,
// requests larger than its MaxTextureSize are refused up front.
// TexturePool is safe for concurrent use.
type TexturePool struct {
	mu     sync.Mutex
	reg    *registry.Registry
	opts   Options
	caps   device.Capabilities
	store  *store[gputypes.TextureFormat, device.TextureID, extent]
	sweep  *sweep.Sweeper
	evicts uint64
	closed bool
}

// NewTexturePool creates a pool that mints textures through reg and starts
// its background sweep.
func NewTexturePool(reg *registry.Registry, opts Options) *TexturePool {
	p := &TexturePool{
		reg:  reg,
		opts: opts.withDefaults(),
		caps: capabilities(reg.Device()),
		store: newStore[gputypes.TextureFormat, device.TextureID](
			extent.fits,
			extent.bytes,
			reg.HasTexture,
		),
	}
	p.sweep = sweep.Start(p.opts.CleanupInterval, func() { p.Cleanup() })
	return p
}

func capabilities(dev device.Device) device.Capabilities {
	if r, ok := dev.(device.CapabilityReporter); ok {
		return r.Capabilities()
	}
	return device.Capabilities{}
}

// RequestTexture returns a texture of at least req.Width x req.Height in
// req.Format. Device failures are returned as *gpures.AllocationError and
// leave the pool unchanged.
func (p *TexturePool) RequestTexture(req TextureRequest) (device.TextureID, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return device.InvalidID, fmt.Errorf("%w: texture %dx%d", gpures.ErrInvalidSize, req.Width, req.Height)
	}
	if !p.caps.FitsTexture(req.Width, req.Height) {
		return device.InvalidID, fmt.Errorf("%w: texture %dx%d exceeds device limit %d",
			gpures.ErrInvalidSize, req.Width, req.Height, p.caps.MaxTextureSize)
	}
	format := device.NormalizeFormat(req.Format)
	want := extent{width: req.Width, height: req.Height, bpp: device.BytesPerPixel(format), mipmaps: req.Mipmaps}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return device.InvalidID, gpures.ErrClosed
	}
	id, dropped, ok := p.store.acquire(format, want, p.opts.Now())
	p.mu.Unlock()
	if dropped > 0 {
		gpures.Logger().Debug("pool: dropped destroyed textures", "count", dropped, "format", format)
	}
	if ok {
		gpures.Logger().Debug("pool: texture reused", "id", id, "width", req.Width, "height", req.Height)
		return id, nil
	}

	id, err := p.reg.CreateTexture(device.TextureDescriptor{
		Width:   req.Width,
		Height:  req.Height,
		Format:  format,
		Mipmaps: req.Mipmaps,
	})
	if err != nil {
		return device.InvalidID, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.reg.DestroyTexture(id)
		return device.InvalidID, gpures.ErrClosed
	}
	p.store.insert(format, id, want, p.opts.Now())
	return id, nil
}

// RequestImage requests a texture large enough for img, converts its
// pixels to format and uploads them. Supported formats are RGBA8Unorm (the
// default), BGRA8Unorm and R8Unorm.
//
// If the upload fails the texture goes back to the pool before the error
// is returned.
func (p *TexturePool) RequestImage(img image.Image, format gputypes.TextureFormat) (device.TextureID, error) {
	format = device.NormalizeFormat(format)
	b := img.Bounds()
	pixels, err := convertPixels(img, format)
	if err != nil {
		return device.InvalidID, err
	}

	id, err := p.RequestTexture(TextureRequest{Width: b.Dx(), Height: b.Dy(), Format: format})
	if err != nil {
		return device.InvalidID, err
	}
	if err := p.reg.Device().WriteTexture(id, b.Dx(), b.Dy(), pixels); err != nil {
		p.ReleaseTexture(id, format)
		return device.InvalidID, fmt.Errorf("pool: upload image: %w", err)
	}
	return id, nil
}

// convertPixels returns tightly packed pixels of img in format.
func convertPixels(img image.Image, format gputypes.TextureFormat) ([]byte, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("%w: empty image", gpures.ErrInvalidSize)
	}
	rect := image.Rect(0, 0, b.Dx(), b.Dy())

	switch format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		dst := image.NewNRGBA(rect)
		draw.Draw(dst, rect, img, b.Min, draw.Src)
		if format == gputypes.TextureFormatBGRA8Unorm {
			for i := 0; i+3 < len(dst.Pix); i += 4 {
				dst.Pix[i], dst.Pix[i+2] = dst.Pix[i+2], dst.Pix[i]
			}
		}
		return dst.Pix, nil
	case gputypes.TextureFormatR8Unorm:
		dst := image.NewGray(rect)
		draw.Draw(dst, rect, img, b.Min, draw.Src)
		return dst.Pix, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
}

// ReleaseTexture returns a texture to the pool for reuse. Releasing a
// texture the pool does not hold under format is a no-op.
func (p *TexturePool) ReleaseTexture(id device.TextureID, format gputypes.TextureFormat) {
	format = device.NormalizeFormat(format)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !p.store.release(format, id, p.opts.Now()) {
		gpures.Logger().Warn("pool: release of unknown texture", "id", id, "format", format)
	}
}

// Cleanup trims every format to MaxPoolSize entries, destroying the least
// recently used idle textures. It returns the number destroyed.
func (p *TexturePool) Cleanup() int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	evicted := p.store.sweep(p.opts.MaxPoolSize)
	p.evicts += uint64(len(evicted))
	p.mu.Unlock()

	for _, id := range evicted {
		p.reg.DestroyTexture(id)
	}
	if len(evicted) > 0 {
		gpures.Logger().Debug("pool: textures evicted", "count", len(evicted))
	}
	return len(evicted)
}

// ClassLen returns the number of pooled textures in format.
func (p *TexturePool) ClassLen(format gputypes.TextureFormat) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.classLen(device.NormalizeFormat(format))
}

// Stats returns a snapshot of the pool.
func (p *TexturePool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.store.stats()
	st.Evictions = p.evicts
	return st
}

// Close stops the background sweep and destroys every pooled texture.
// Close is idempotent.
func (p *TexturePool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	all := p.store.drain()
	p.mu.Unlock()

	p.sweep.Stop()
	for _, id := range all {
		p.reg.DestroyTexture(id)
	}
}
