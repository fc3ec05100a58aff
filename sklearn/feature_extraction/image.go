// Package feature_extraction はSGDモデルの入力となる疎な特徴量行列を画像から作ります。
//
// 画像はグレースケール化・リサイズされ、しきい値未満の画素は格納しません。
// 背景が明るい画像では Invert を指定すると背景が 0 になり、行列が疎になります。
package feature_extraction

import (
	"context"
	"image"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // BMP デコーダを登録
	_ "golang.org/x/image/webp" // WebP デコーダを登録

	"github.com/YuminosukeSato/sparsesgd/core/parallel"
	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
)

// Cropper narrows an image to its region of interest before vectorizing.
// ok is false when nothing was found; the vectorizer then uses the whole image.
type Cropper interface {
	Crop(img image.Image) (cropped image.Image, ok bool)
}

// PixelVectorizer turns images into rows of Width*Height grayscale intensities in [0, 1].
type PixelVectorizer struct {
	Width, Height int

	// Threshold より小さい強度は 0 として扱う
	Threshold float64

	// Invert は明暗を反転する（白背景 → 0）
	Invert bool

	// Cropper が nil でなければ各画像を先に切り出す
	Cropper Cropper

	NJobs  int
	Logger log.Logger
}

// NewPixelVectorizer returns a vectorizer producing width*height features.
func NewPixelVectorizer(width, height int) *PixelVectorizer {
	return &PixelVectorizer{Width: width, Height: height, NJobs: -1}
}

// NFeatures is the number of columns Transform produces.
func (v *PixelVectorizer) NFeatures() int { return v.Width * v.Height }

func (v *PixelVectorizer) validate() error {
	if v.Width <= 0 {
		return errors.NewValidationError("width", "must be positive", v.Width)
	}
	if v.Height <= 0 {
		return errors.NewValidationError("height", "must be positive", v.Height)
	}
	if v.Threshold < 0 || v.Threshold > 1 {
		return errors.NewValidationError("threshold", "must be in [0, 1]", v.Threshold)
	}
	if v.NJobs == 0 {
		return errors.NewValidationError("n_jobs", "must not be zero", v.NJobs)
	}
	return nil
}

// Transform vectorizes every image into one CSR row.
func (v *PixelVectorizer) Transform(ctx context.Context, images []image.Image) (*sparse.CSR, error) {
	if err := v.validate(); err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return nil, errors.NewModelError("PixelVectorizer.Transform", "no images", errors.ErrEmptyData)
	}

	rows, err := parallel.Map(ctx, v.NJobs, len(images), func(_ context.Context, i int) (sparse.Row, error) {
		if images[i] == nil {
			return sparse.Row{}, errors.NewValidationError("images", "nil image", i)
		}
		return v.vectorize(images[i]), nil
	})
	if err != nil {
		return nil, err
	}
	X, err := sparse.FromRows(v.NFeatures(), rows)
	if err != nil {
		return nil, err
	}
	if v.Logger != nil {
		r, c := X.Dims()
		v.Logger.Debug("Vectorized images", "rows", r, "cols", c, "nnz", X.NNZ())
	}
	return X, nil
}

func (v *PixelVectorizer) vectorize(img image.Image) sparse.Row {
	if v.Cropper != nil {
		if cropped, ok := v.Cropper.Crop(img); ok {
			img = cropped
		}
	}
	gray := imaging.Grayscale(imaging.Fill(img, v.Width, v.Height, imaging.Center, imaging.Lanczos))
	if v.Invert {
		gray = imaging.Invert(gray)
	}

	var row sparse.Row
	for y := 0; y < v.Height; y++ {
		off := y * gray.Stride
		for x := 0; x < v.Width; x++ {
			// グレースケール画像なので R チャンネルだけ見れば良い
			val := float64(gray.Pix[off+x*4]) / 255
			if val == 0 || val < v.Threshold {
				continue
			}
			row.Indices = append(row.Indices, y*v.Width+x)
			row.Values = append(row.Values, val)
		}
	}
	return row
}

// LoadImage opens an image file, honouring the EXIF orientation of JPEGs.
// PNG, JPEG, GIF, TIFF, BMP and WebP are supported.
func LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %s", path)
	}
	return img, nil
}

// DecodeImage decodes an image from r.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return img, nil
}

// LoadImages loads every path, stopping at the first failure.
func LoadImages(ctx context.Context, nJobs int, paths []string) ([]image.Image, error) {
	return parallel.Map(ctx, nJobs, len(paths), func(_ context.Context, i int) (image.Image, error) {
		return LoadImage(paths[i])
	})
}
