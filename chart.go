package rigscope

import (
	"fmt"
	"io"
	"math"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

type ChartFormat string

const (
	ChartPNG ChartFormat = "png"
	ChartSVG ChartFormat = "svg"
)

const (
	DefaultChartWidth  = 640
	DefaultChartHeight = 320

	// Raster charts allocate width*height pixels.
	MaxChartWidth  = 4096
	MaxChartHeight = 4096
)

var traceColor = drawing.ColorFromHex("F2C57C")

// RenderSeriesChart draws a view's points as a strip chart.
//
// go-chart refuses to render a series without points or an axis without
// extent, so both ranges are always set explicitly and an empty series is
// drawn as an invisible placeholder.
func RenderSeriesChart(w io.Writer, format ChartFormat, options ViewOptions, points []Point, width, height int) error {
	var provider chart.RendererProvider
	switch format {
	case ChartPNG:
		provider = chart.PNG
	case ChartSVG:
		provider = chart.SVG
	default:
		return fmt.Errorf("unsupported chart format %q", format)
	}

	if width <= 0 {
		width = DefaultChartWidth
	}
	if height <= 0 {
		height = DefaultChartHeight
	}
	width = Min(width, MaxChartWidth)
	height = Min(height, MaxChartHeight)

	xs := make([]float64, 0, len(points))
	ys := make([]float64, 0, len(points))
	for _, p := range points {
		xs = append(xs, p.X)
		ys = append(ys, p.Y)
	}

	style := chart.Style{
		StrokeColor: traceColor,
		StrokeWidth: 1.4,
	}

	if len(points) == 0 {
		xs = []float64{0, 1}
		ys = []float64{0, 0}
		style.StrokeColor = drawing.ColorTransparent
	}

	xMin, xMax := extent(xs)
	yMin, yMax := extent(ys)

	graph := chart.Chart{
		Title:  options.Title,
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			Name:  options.XLabel,
			Range: &chart.ContinuousRange{Min: xMin, Max: xMax},
		},
		YAxis: chart.YAxis{
			Name:  options.YLabel,
			Range: &chart.ContinuousRange{Min: yMin, Max: yMax},
		},
		Series: []chart.Series{
			chart.ContinuousSeries{
				Name:    options.Title,
				XValues: xs,
				YValues: ys,
				Style:   style,
			},
		},
	}

	return graph.Render(provider, w)
}

// Returns the min and max of values, widened so that max > min.
func extent(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = Min(lo, v)
		hi = Max(hi, v)
	}

	if hi-lo < 1e-9 {
		lo -= 0.5
		hi += 0.5
	}

	return lo, hi
}
