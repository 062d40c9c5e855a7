package monitor

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement name used for samples.
const Measurement = "gpures"

// export is the JSON document written by ExportJSON.
type export struct {
	Current Metrics  `json:"current"`
	History []Sample `json:"history"`
}

// ExportJSON returns the current metrics and the history as indented JSON.
func (m *Monitor) ExportJSON() ([]byte, error) {
	doc := export{Current: m.Current(), History: m.History()}
	if doc.History == nil {
		doc.History = []Sample{}
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Points converts the history into InfluxDB points, one per sample. tags
// are added to every point.
func (m *Monitor) Points(tags map[string]string) []*write.Point {
	history := m.History()
	points := make([]*write.Point, 0, len(history))
	for _, s := range history {
		p := influxdb2.NewPoint(Measurement, nil, fields(s.Metrics), s.Timestamp)
		for k, v := range tags {
			p.AddTag(k, v)
		}
		points = append(points, p)
	}
	return points
}

func fields(met Metrics) map[string]interface{} {
	return map[string]interface{}{
		"fps":               met.FPS,
		"frame_time_ms":     met.FrameTimeMS,
		"draw_calls":        met.DrawCalls,
		"shader_compile_ms": met.ShaderCompileMS,
		"buffer_bytes":      met.MemoryUsage.GeometryBuffers,
		"texture_bytes":     met.MemoryUsage.TextureMemory,
		"total_bytes":       met.MemoryUsage.TotalMemory,
		"buffers":           met.ResourceCounts.Buffers,
		"textures":          met.ResourceCounts.Textures,
		"instances":         met.ResourceCounts.Instances,
		"programs":          met.ResourceCounts.Programs,
		"handles":           met.ResourceCounts.Handles,
	}
}

// WriteLineProtocol writes the history to w in InfluxDB line protocol with
// nanosecond timestamps.
func (m *Monitor) WriteLineProtocol(w io.Writer, tags map[string]string) error {
	for _, p := range m.Points(tags) {
		if _, err := io.WriteString(w, write.PointToLineProtocol(p, time.Nanosecond)); err != nil {
			return fmt.Errorf("monitor: write line protocol: %w", err)
		}
	}
	return nil
}

// PointWriter accepts points for asynchronous delivery, such as the
// WriteAPI of an influxdb2.Client.
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Publish sends the history to w and flushes it.
func (m *Monitor) Publish(w PointWriter, tags map[string]string) int {
	points := m.Points(tags)
	for _, p := range points {
		w.WritePoint(p)
	}
	w.Flush()
	return len(points)
}
