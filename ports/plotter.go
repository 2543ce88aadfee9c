package ports

import (
	"context"
)

// ScatterPoint is a single point in a diagnostic scatter plot
type ScatterPoint struct {
	X float64
	Y float64
}

// LineOverlay describes a straight line drawn over a scatter, either the
// fitted calibration line or the identity line
type LineOverlay struct {
	Slope     float64
	Intercept float64
}

// ScatterSpec describes one diagnostic scatter plot
type ScatterSpec struct {
	Title  string
	XLabel string
	YLabel string
	Points []ScatterPoint
	Line   *LineOverlay
}

// ScatterPlotterPort renders diagnostic scatter plots to image files.
// Keeping rendering behind a port keeps image libraries out of the domain
// and lets tests swap in a recorder.
type ScatterPlotterPort interface {
	RenderScatter(ctx context.Context, spec ScatterSpec, path string) error
}
