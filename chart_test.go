package rigscope

import (
	"bytes"
	"strings"
	"testing"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestRenderSeriesChart(t *testing.T) {
	options := DefaultViews()[0]

	manyPoints := make([]Point, 0, 100)
	for i := 0; i < 100; i++ {
		manyPoints = append(manyPoints, Point{X: float64(i) * 0.02, Y: float64(i % 37)})
	}

	tests := []struct {
		name   string
		points []Point
	}{
		{name: "empty", points: nil},
		{name: "single point", points: []Point{{X: 1, Y: 5}}},
		{name: "flat line", points: []Point{{X: 1, Y: 5}, {X: 2, Y: 5}}},
		{name: "full window", points: manyPoints},
	}

	for _, tt := range tests {
		t.Run(tt.name+" png", func(t *testing.T) {
			var buf bytes.Buffer
			if err := RenderSeriesChart(&buf, ChartPNG, options, tt.points, 0, 0); err != nil {
				t.Fatalf("RenderSeriesChart() error = %v", err)
			}
			if !bytes.HasPrefix(buf.Bytes(), pngMagic) {
				t.Fatalf("output is not a PNG")
			}
		})

		t.Run(tt.name+" svg", func(t *testing.T) {
			var buf bytes.Buffer
			if err := RenderSeriesChart(&buf, ChartSVG, options, tt.points, 320, 200); err != nil {
				t.Fatalf("RenderSeriesChart() error = %v", err)
			}
			if !strings.Contains(buf.String(), "<svg") {
				t.Fatalf("output is not an SVG: %.60q", buf.String())
			}
		})
	}

	t.Run("unsupported format", func(t *testing.T) {
		var buf bytes.Buffer
		if err := RenderSeriesChart(&buf, ChartFormat("gif"), options, nil, 0, 0); err == nil {
			t.Fatalf("expected error for gif")
		}
	})
}

func TestRenderSeriesChartClampsSize(t *testing.T) {
	var buf bytes.Buffer
	err := RenderSeriesChart(&buf, ChartSVG, DefaultViews()[0], []Point{{X: 1, Y: 2}, {X: 2, Y: 3}}, 100000, 100000)
	if err != nil {
		t.Fatalf("RenderSeriesChart() error = %v", err)
	}
	if strings.Contains(buf.String(), "100000") {
		t.Fatalf("chart was rendered at the requested size")
	}
}

func TestExtent(t *testing.T) {
	lo, hi := extent([]float64{3, -1, 7})
	if lo != -1 || hi != 7 {
		t.Fatalf("extent() = (%v, %v), want (-1, 7)", lo, hi)
	}

	lo, hi = extent([]float64{5})
	if lo != 4.5 || hi != 5.5 {
		t.Fatalf("extent() of a single value = (%v, %v), want (4.5, 5.5)", lo, hi)
	}
}
