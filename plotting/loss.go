// Package plotting renders training diagnostics with gonum/plot.
package plotting

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// Default image size.
const (
	DefaultWidth  = 6 * vg.Inch
	DefaultHeight = 4 * vg.Inch
)

// Series is one named loss curve, one value per epoch.
type Series struct {
	Name string
	Loss []float64
}

// LossCurve builds a line plot of mean loss against epoch for every series.
// Epochs are numbered from 1.
func LossCurve(title string, series ...Series) (*plot.Plot, error) {
	if len(series) == 0 {
		return nil, errors.NewValueError("LossCurve", "no series to plot")
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "mean loss"
	p.Add(plotter.NewGrid())

	for i, s := range series {
		if len(s.Loss) == 0 {
			return nil, errors.NewValidationError("series", "empty loss history", s.Name)
		}
		pts := make(plotter.XYs, len(s.Loss))
		for e, v := range s.Loss {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.NewNumericalInstabilityError("LossCurve", s.Loss, e)
			}
			pts[e] = plotter.XY{X: float64(e + 1), Y: v}
		}

		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to build line for %q", s.Name)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = plotutil.Color(i)
		p.Add(line)
		if s.Name != "" {
			p.Legend.Add(s.Name, line)
		}
	}
	p.Legend.Top = true
	return p, nil
}

// ClassSeries names per-class histories as returned by SGDClassifier.LossHistory.
// A binary model has one history which is named after the positive class.
func ClassSeries(classes []float64, histories [][]float64) []Series {
	out := make([]Series, len(histories))
	for i, h := range histories {
		name := fmt.Sprintf("class %d", i)
		switch {
		case len(histories) == 1 && len(classes) == 2:
			name = fmt.Sprintf("class %g vs %g", classes[1], classes[0])
		case i < len(classes):
			name = fmt.Sprintf("class %g", classes[i])
		}
		out[i] = Series{Name: name, Loss: h}
	}
	return out
}

// SaveLossCurve writes the loss plot to path. The image format follows the file extension
// (png, svg, pdf, ...).
func SaveLossCurve(path, title string, series ...Series) error {
	p, err := LossCurve(title, series...)
	if err != nil {
		return err
	}
	if err := p.Save(DefaultWidth, DefaultHeight, path); err != nil {
		return errors.Wrapf(err, "failed to save plot to %s", path)
	}
	return nil
}

// WriteLossCurve renders the loss plot to w in the given format ("png", "svg", ...).
func WriteLossCurve(w io.Writer, format, title string, series ...Series) error {
	p, err := LossCurve(title, series...)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(DefaultWidth, DefaultHeight, strings.TrimPrefix(format, "."))
	if err != nil {
		return errors.Wrapf(err, "unsupported plot format %q", format)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return errors.Wrap(err, "failed to write plot")
	}
	return nil
}

// FormatOf returns the plot format implied by a file name.
func FormatOf(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return "png"
	}
	return ext
}
