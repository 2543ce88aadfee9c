package plotpng

import (
	"context"
	"fmt"
	"image/color"
	"log"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"gorank/domain/core"
	"gorank/ports"
)

// Point and line styling shared by both diagnostic plots
var (
	pointColor = color.RGBA{B: 255, A: 255}
	lineColor  = color.RGBA{R: 255, A: 255}
)

// Plotter renders scatter specs to image files with gonum/plot. The output
// format follows the path extension, PNG in the pipeline.
type Plotter struct{}

// NewPlotter creates a scatter plot renderer
func NewPlotter() *Plotter {
	return &Plotter{}
}

// RenderScatter draws spec's points and optional line, then saves to path
func (p *Plotter) RenderScatter(ctx context.Context, spec ports.ScatterSpec, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(spec.Points) == 0 {
		return fmt.Errorf("%w: no points to plot for %q", core.ErrInvalidInput, spec.Title)
	}

	start := time.Now()
	plt := plot.New()
	plt.Title.Text = spec.Title
	plt.X.Label.Text = spec.XLabel
	plt.Y.Label.Text = spec.YLabel

	xys := make(plotter.XYs, len(spec.Points))
	for i, pt := range spec.Points {
		xys[i].X = pt.X
		xys[i].Y = pt.Y
	}
	scatter, err := plotter.NewScatter(xys)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	scatter.GlyphStyle.Color = pointColor
	scatter.GlyphStyle.Radius = vg.Points(0.5)
	plt.Add(scatter)

	if spec.Line != nil {
		line := plotter.NewFunction(func(x float64) float64 {
			return spec.Line.Slope*x + spec.Line.Intercept
		})
		line.Color = lineColor
		line.Width = vg.Points(1.5)
		plt.Add(line)
	}

	if err := plt.Save(6*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	log.Printf("[Plot] Rendered %d points in %.2fms: %s",
		len(spec.Points), float64(time.Since(start).Nanoseconds())/1e6, path)
	return nil
}
