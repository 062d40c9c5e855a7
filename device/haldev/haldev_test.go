//go:build !nogpu

package haldev

import (
	"reflect"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpures/device"
)

func TestMipLevels(t *testing.T) {
	tests := []struct {
		w, h int
		want uint32
	}{
		{1, 1, 1},
		{2, 2, 2},
		{256, 256, 9},
		{256, 1, 9},
		{300, 200, 9},
	}
	for _, tt := range tests {
		if got := mipLevels(tt.w, tt.h); got != tt.want {
			t.Errorf("mipLevels(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

type nilProvider struct{}

func (nilProvider) HalDevice() any { return nil }
func (nilProvider) HalQueue() any  { return nil }

func TestFromProviderRejects(t *testing.T) {
	tests := []struct {
		name     string
		provider any
	}{
		{"not a provider", struct{}{}},
		{"nil HAL objects", nilProvider{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromProvider(tt.provider); err == nil {
				t.Error("FromProvider() error = nil, want error")
			}
		})
	}
}

func TestCompileSPIRVRejectsBrokenWGSL(t *testing.T) {
	if _, err := compileSPIRV("fn vs_main( {"); err == nil {
		t.Error("compileSPIRV() error = nil, want error")
	}
}

func TestLostDeviceRefusesCreates(t *testing.T) {
	d := New(nil, nil)
	if d.IsContextLost() {
		t.Fatal("IsContextLost() = true before MarkLost")
	}
	d.MarkLost()
	d.MarkLost()
	if !d.IsContextLost() {
		t.Fatal("IsContextLost() = false after MarkLost")
	}
	if _, err := d.CreateShader(1); err != ErrContextLost {
		t.Errorf("CreateShader() error = %v, want %v", err, ErrContextLost)
	}
	if _, err := d.CreateProgram(); err != ErrContextLost {
		t.Errorf("CreateProgram() error = %v, want %v", err, ErrContextLost)
	}
	if _, err := d.CreateFramebuffer(4, 4); err != ErrContextLost {
		t.Errorf("CreateFramebuffer() error = %v, want %v", err, ErrContextLost)
	}
}

func TestIDsStartAtOne(t *testing.T) {
	d := New(nil, nil)
	s, err := d.CreateShader(1)
	if err != nil {
		t.Fatalf("CreateShader() error = %v", err)
	}
	p, err := d.CreateProgram()
	if err != nil {
		t.Fatalf("CreateProgram() error = %v", err)
	}
	if s != 1 || p != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", s, p)
	}
	if log, ok := d.LinkProgram(p, s, s); ok || log == "" {
		t.Errorf("LinkProgram() of uncompiled shaders = %q, %v, want failure", log, ok)
	}
	d.DestroyProgram(p)
	d.DestroyShader(s)
	if _, ok := d.Pipeline(p); ok {
		t.Error("Pipeline() found destroyed program")
	}
}

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		want device.Capabilities
	}{
		{
			name: "default limits",
			want: device.Capabilities{MaxTextureSize: 8192, MaxTextureUnits: 16},
		},
		{
			name: "adapter",
			opts: []Option{WithAdapter(hal.ExposedAdapter{
				Info: gputypes.AdapterInfo{Name: "Test GPU", Vendor: "Acme"},
				Capabilities: hal.Capabilities{Limits: gputypes.Limits{
					MaxTextureDimension2D:            16384,
					MaxSampledTexturesPerShaderStage: 32,
				}},
			})},
			want: device.Capabilities{MaxTextureSize: 16384, MaxTextureUnits: 32, Vendor: "Acme", Renderer: "Test GPU"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(nil, nil, tt.opts...).Capabilities()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Capabilities() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
