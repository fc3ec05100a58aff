// Command facedetect runs a pigo cascade over images and prints the detected faces as
// JSON lines, one object per image:
//
//	facedetect -cascade facefinder -min-size 40 photo1.jpg photo2.png
//	{"file":"photo1.jpg","faces":[{"x":120,"y":64,"width":88,"height":88,"score":21.4}]}
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"golang.org/x/term"

	"github.com/YuminosukeSato/sparsesgd/core/parallel"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
	"github.com/YuminosukeSato/sparsesgd/sklearn/feature_extraction"
)

// Face is one detection in image coordinates.
type Face struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float32 `json:"score"`
}

// Result is the output line for one image.
type Result struct {
	File  string `json:"file"`
	Faces []Face `json:"faces"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, console bool) int {
	params := feature_extraction.DefaultFaceCropParams()
	var (
		cascade  string
		cropDir  string
		logLevel string
		workers  int
	)
	fs := flag.NewFlagSet("facedetect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cascade, "cascade", "", "pigo cascade file (required)")
	fs.IntVar(&params.MinSize, "min-size", params.MinSize, "minimum face size in pixels")
	fs.IntVar(&params.MaxSize, "max-size", params.MaxSize, "maximum face size in pixels (0: image size)")
	fs.Float64Var(&params.ShiftFactor, "shift", params.ShiftFactor, "window shift as a fraction of its size")
	fs.Float64Var(&params.ScaleFactor, "scale", params.ScaleFactor, "window growth per scale")
	fs.Float64Var(&params.IoU, "iou", params.IoU, "IoU threshold for merging detections")
	fs.Float64Var(&params.Angle, "angle", params.Angle, "in-plane rotation, 0..1 of a full turn")
	fs.Float64Var(&params.Margin, "margin", params.Margin, "extra border around saved crops, as a fraction of the face size")
	fs.StringVar(&cropDir, "crop-dir", "", "save the best face of every image here")
	fs.StringVar(&logLevel, "log-level", "warn", "debug, info, warn or error")
	fs.IntVar(&workers, "workers", -1, "images processed concurrently (-1: all CPUs)")
	minQ := fs.Float64("min-quality", float64(params.MinQuality), "minimum detection score")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: facedetect -cascade FILE [flags] IMAGE...\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cascade == "" || fs.NArg() == 0 || workers == 0 {
		fs.Usage()
		return 2
	}
	params.MinQuality = float32(*minQ)

	provider, err := log.SetupLogger(logLevel, stderr, console)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	logger := provider.GetLoggerWithName("cmd/facedetect")
	if err := detectAll(ctx, logger, cascade, params, fs.Args(), cropDir, workers, stdout); err != nil {
		logger.Error("Face detection failed", err)
		fmt.Fprintf(stderr, "facedetect: %v\n", err)
		return 1
	}
	return 0
}

func detectAll(ctx context.Context, logger log.Logger, cascade string, params feature_extraction.FaceCropParams, files []string, cropDir string, workers int, w io.Writer) error {
	fc, err := feature_extraction.NewFaceCropperFromFile(cascade, params)
	if err != nil {
		return err
	}
	if cropDir != "" {
		if err := os.MkdirAll(cropDir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", cropDir)
		}
	}

	results, err := parallel.Map(ctx, workers, len(files), func(_ context.Context, i int) (Result, error) {
		img, err := feature_extraction.LoadImage(files[i])
		if err != nil {
			return Result{}, err
		}
		dets := fc.Detect(img)
		res := Result{File: files[i], Faces: toFaces(dets, img.Bounds())}
		logger.Debug("Detected faces", "file", files[i], "faces", len(res.Faces))

		if cropDir != "" && len(dets) > 0 {
			rect := feature_extraction.FaceRect(dets[0], img.Bounds(), params.Margin)
			if err := saveCrop(imaging.Crop(img, rect), files[i], cropDir); err != nil {
				return Result{}, err
			}
		}
		return res, nil
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return errors.Wrap(err, "failed to write result")
		}
	}
	return nil
}

func toFaces(dets []pigo.Detection, bounds image.Rectangle) []Face {
	out := make([]Face, 0, len(dets))
	for _, d := range dets {
		r := feature_extraction.FaceRect(d, bounds, 0)
		if r.Empty() {
			continue
		}
		out = append(out, Face{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy(), Score: d.Q})
	}
	return out
}

func saveCrop(cropped image.Image, file, dir string) error {
	base := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	dst := filepath.Join(dir, base+"_face.png")
	if err := imaging.Save(cropped, dst); err != nil {
		return errors.Wrapf(err, "failed to save %s", dst)
	}
	return nil
}
