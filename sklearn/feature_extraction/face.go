package feature_extraction

import (
	"image"
	"os"
	"sort"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// FaceCropParams controls the pigo cascade scan.
type FaceCropParams struct {
	MinSize     int     // 検出窓の最小サイズ (px)
	MaxSize     int     // 0 なら画像の長辺
	ShiftFactor float64 // 窓を動かす割合
	ScaleFactor float64 // スケールごとの拡大率
	Angle       float64 // 0..1, 1 は 2π
	IoU         float64 // 重複検出をまとめるしきい値
	MinQuality  float32 // これ未満のスコアは捨てる
	Margin      float64 // 切り出し窓を検出サイズに対してこの割合だけ広げる
}

// DefaultFaceCropParams returns the settings pigo's own examples use.
func DefaultFaceCropParams() FaceCropParams {
	return FaceCropParams{
		MinSize:     20,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		IoU:         0.2,
		MinQuality:  5,
	}
}

// FaceCropper crops an image to the highest-scoring face found by a pigo cascade.
type FaceCropper struct {
	detector *pigo.Pigo
	params   FaceCropParams
}

// NewFaceCropper unpacks a pigo cascade (e.g. the "facefinder" file shipped with pigo).
func NewFaceCropper(cascade []byte, params FaceCropParams) (fc *FaceCropper, err error) {
	if params.MinSize <= 0 {
		return nil, errors.NewValidationError("min_size", "must be positive", params.MinSize)
	}
	if params.ScaleFactor <= 1 {
		return nil, errors.NewValidationError("scale_factor", "must be greater than 1", params.ScaleFactor)
	}
	if params.ShiftFactor <= 0 || params.ShiftFactor > 1 {
		return nil, errors.NewValidationError("shift_factor", "must be in (0, 1]", params.ShiftFactor)
	}
	// 壊れたカスケードファイルだと Unpack は範囲外アクセスで panic する
	defer errors.Recover(&err, "unpack cascade")

	detector, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unpack cascade")
	}
	return &FaceCropper{detector: detector, params: params}, nil
}

// NewFaceCropperFromFile reads the cascade from path.
func NewFaceCropperFromFile(path string, params FaceCropParams) (*FaceCropper, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read cascade %s", path)
	}
	return NewFaceCropper(data, params)
}

// Detect returns the clustered detections above MinQuality, best first.
func (f *FaceCropper) Detect(img image.Image) []pigo.Detection {
	b := img.Bounds()
	cols, rows := b.Dx(), b.Dy()
	maxSize := f.params.MaxSize
	if maxSize <= 0 {
		maxSize = max(cols, rows)
	}

	dets := f.detector.RunCascade(pigo.CascadeParams{
		MinSize:     f.params.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: f.params.ShiftFactor,
		ScaleFactor: f.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}, f.params.Angle)
	dets = f.detector.ClusterDetections(dets, f.params.IoU)
	return bestDetections(dets, f.params.MinQuality)
}

// Crop implements Cropper.
func (f *FaceCropper) Crop(img image.Image) (image.Image, bool) {
	dets := f.Detect(img)
	if len(dets) == 0 {
		return img, false
	}
	rect := FaceRect(dets[0], img.Bounds(), f.params.Margin)
	if rect.Empty() {
		return img, false
	}
	return imaging.Crop(img, rect), true
}

// bestDetections drops detections below minQ and orders the rest by score, best first.
func bestDetections(dets []pigo.Detection, minQ float32) []pigo.Detection {
	out := make([]pigo.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Q >= minQ {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Q > out[j].Q })
	return out
}

// FaceRect converts a pigo detection (centre row/col and side length) into a square in
// image coordinates, grown by margin and clipped to bounds.
func FaceRect(d pigo.Detection, bounds image.Rectangle, margin float64) image.Rectangle {
	half := int(float64(d.Scale)*(1+margin)) / 2
	r := image.Rect(d.Col-half, d.Row-half, d.Col+half, d.Row+half)
	return r.Add(bounds.Min).Intersect(bounds)
}
