package feature_extraction

import (
	"context"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

func uniform(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// halfDark は左半分が黒、右半分が白の画像
func halfDark(w, h int) *image.Gray {
	img := uniform(w, h, 255)
	for y := 0; y < h; y++ {
		for x := 0; x < w/2; x++ {
			img.SetGray(x, y, color.Gray{Y: 0})
		}
	}
	return img
}

func TestPixelVectorizerTransform(t *testing.T) {
	v := NewPixelVectorizer(4, 3)
	X, err := v.Transform(context.Background(), []image.Image{
		uniform(8, 6, 255),
		uniform(8, 6, 0),
		uniform(16, 12, 102),
	})
	require.NoError(t, err)

	r, c := X.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 12, c)
	assert.Equal(t, 12, v.NFeatures())

	assert.Equal(t, 12, X.RowNNZ(0))
	assert.Equal(t, 0, X.RowNNZ(1), "black pixels are not stored")
	for j := 0; j < 12; j++ {
		assert.InDelta(t, 1.0, X.At(0, j), 1.0/255)
		assert.InDelta(t, 0.4, X.At(2, j), 1.0/255)
	}
}

func TestPixelVectorizerInvertAndThreshold(t *testing.T) {
	v := NewPixelVectorizer(8, 2)
	v.Invert = true
	v.NJobs = 1
	X, err := v.Transform(context.Background(), []image.Image{halfDark(8, 2), uniform(8, 2, 255)})
	require.NoError(t, err)

	// 反転すると白背景が 0 になる
	assert.Equal(t, 0, X.RowNNZ(1))
	assert.InDelta(t, 1.0, X.At(0, 0), 1.0/255)
	assert.Equal(t, 0.0, X.At(0, 7))

	v = NewPixelVectorizer(2, 2)
	v.Threshold = 0.5
	X, err = v.Transform(context.Background(), []image.Image{uniform(2, 2, 100)})
	require.NoError(t, err)
	assert.Equal(t, 0, X.NNZ())
}

type fixedCropper struct {
	rect image.Rectangle
	ok   bool
}

func (f fixedCropper) Crop(img image.Image) (image.Image, bool) {
	if !f.ok {
		return img, false
	}
	return img.(*image.Gray).SubImage(f.rect), true
}

func TestPixelVectorizerCropper(t *testing.T) {
	img := halfDark(8, 8)
	v := NewPixelVectorizer(2, 2)
	v.Cropper = fixedCropper{rect: image.Rect(4, 0, 8, 8), ok: true}
	X, err := v.Transform(context.Background(), []image.Image{img})
	require.NoError(t, err)
	assert.Equal(t, 4, X.RowNNZ(0), "only the white half is kept")

	v.Cropper = fixedCropper{}
	X, err = v.Transform(context.Background(), []image.Image{img})
	require.NoError(t, err)
	assert.Greater(t, X.RowNNZ(0), 0)
}

func TestPixelVectorizerErrors(t *testing.T) {
	var verr *errors.ValidationError
	ctx := context.Background()
	imgs := []image.Image{uniform(2, 2, 1)}

	for _, v := range []*PixelVectorizer{
		NewPixelVectorizer(0, 2),
		NewPixelVectorizer(2, -1),
		{Width: 2, Height: 2, Threshold: 2, NJobs: 1},
		{Width: 2, Height: 2},
	} {
		_, err := v.Transform(ctx, imgs)
		assert.True(t, errors.As(err, &verr), "got %v", err)
	}

	_, err := NewPixelVectorizer(2, 2).Transform(ctx, nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))

	_, err = NewPixelVectorizer(2, 2).Transform(ctx, []image.Image{nil})
	assert.True(t, errors.As(err, &verr))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewPixelVectorizer(2, 2).Transform(cancelled, imgs)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gray.bmp")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, bmp.Encode(f, uniform(5, 3, 200)))
	require.NoError(t, f.Close())

	img, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 5, 3), img.Bounds())

	imgs, err := LoadImages(context.Background(), 2, []string{path, path})
	require.NoError(t, err)
	assert.Len(t, imgs, 2)

	_, err = LoadImages(context.Background(), 2, []string{path, filepath.Join(dir, "missing.png")})
	assert.Error(t, err)

	r, err := os.Open(path)
	require.NoError(t, err)
	defer r.Close()
	_, err = DecodeImage(r)
	assert.NoError(t, err)
}

// alwaysFace は深さ 1 の木を 1 本だけ持つカスケードで、どの窓もスコア 10 になる
func alwaysFace() []byte {
	buf := make([]byte, 8)
	buf = binary.LittleEndian.AppendUint32(buf, 1) // tree depth
	buf = binary.LittleEndian.AppendUint32(buf, 1) // tree count
	buf = append(buf, 0, 0, 0, 0)                  // node offsets
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(0))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(10))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(0)) // threshold
	return buf
}

func TestFaceCropper(t *testing.T) {
	params := DefaultFaceCropParams()
	fc, err := NewFaceCropper(alwaysFace(), params)
	require.NoError(t, err)

	img := uniform(40, 40, 128)
	dets := fc.Detect(img)
	require.NotEmpty(t, dets)
	for i := 1; i < len(dets); i++ {
		assert.GreaterOrEqual(t, dets[i-1].Q, dets[i].Q)
	}

	cropped, ok := fc.Crop(img)
	require.True(t, ok)
	b := cropped.Bounds()
	assert.True(t, b.Dx() > 0 && b.Dx() <= 40)
	assert.True(t, b.Dy() > 0 && b.Dy() <= 40)

	params.MinQuality = 1e30
	strict, err := NewFaceCropper(alwaysFace(), params)
	require.NoError(t, err)
	same, ok := strict.Crop(img)
	assert.False(t, ok)
	assert.Equal(t, img, same)
}

func TestNewFaceCropperErrors(t *testing.T) {
	var verr *errors.ValidationError
	for _, mutate := range []func(*FaceCropParams){
		func(p *FaceCropParams) { p.MinSize = 0 },
		func(p *FaceCropParams) { p.ScaleFactor = 1 },
		func(p *FaceCropParams) { p.ShiftFactor = 0 },
	} {
		p := DefaultFaceCropParams()
		mutate(&p)
		_, err := NewFaceCropper(alwaysFace(), p)
		assert.True(t, errors.As(err, &verr))
	}

	// 切り詰められたファイルは panic ではなくエラーになる
	_, err := NewFaceCropper([]byte{1, 2, 3}, DefaultFaceCropParams())
	var perr *errors.PanicError
	assert.True(t, errors.As(err, &perr))

	_, err = NewFaceCropperFromFile(filepath.Join(t.TempDir(), "none"), DefaultFaceCropParams())
	assert.Error(t, err)
}

func TestDetectionHelpers(t *testing.T) {
	dets := bestDetections([]pigo.Detection{
		{Row: 1, Col: 1, Scale: 4, Q: 2},
		{Row: 2, Col: 2, Scale: 4, Q: 9},
		{Row: 3, Col: 3, Scale: 4, Q: 0.5},
	}, 1)
	require.Len(t, dets, 2)
	assert.Equal(t, float32(9), dets[0].Q)

	bounds := image.Rect(0, 0, 20, 20)
	assert.Equal(t, image.Rect(5, 5, 15, 15), FaceRect(pigo.Detection{Row: 10, Col: 10, Scale: 10}, bounds, 0))
	assert.Equal(t, image.Rect(0, 0, 12, 12), FaceRect(pigo.Detection{Row: 4, Col: 4, Scale: 10}, bounds, 0.6))
}
