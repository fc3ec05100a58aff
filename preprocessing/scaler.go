// Package preprocessing はSGDの前処理として使う特徴量スケーラーを提供します。
//
// SGD は特徴量のスケールに敏感なので、学習前に各列をそろえておくと収束が安定します。
// どちらのスケーラーも *sparse.CSR を入力に取ったときは疎性を保ったまま
// 列ごとの掛け算だけを行います。
package preprocessing

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/sparsesgd/core/model"
	"github.com/YuminosukeSato/sparsesgd/core/sparse"
	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// 標準偏差がこれより小さい列は定数とみなし、スケール 1 を使う
const minScale = 1e-8

var (
	_ model.Transformer = (*StandardScaler)(nil)
	_ model.Transformer = (*MaxAbsScaler)(nil)
)

// StandardScaler はscikit-learn互換の標準化スケーラー
// データを平均0、標準偏差1に変換する
//
// 疎行列は中心化すると密になるため、*sparse.CSR を Fit/Transform するときは
// WithMean=false（スケールのみ）でなければならない。
type StandardScaler struct {
	state *model.StateManager

	// Mean は各特徴量の平均値
	Mean []float64

	// Scale は各特徴量の標準偏差
	Scale []float64

	// WithMean は平均を引くかどうか (デフォルト: true)
	WithMean bool

	// WithStd は標準偏差で割るかどうか (デフォルト: true)
	WithStd bool
}

// NewStandardScaler は新しいStandardScalerを作成する
//
// 使用例:
//
//	scaler := preprocessing.NewStandardScaler(false, true)
//	Xs, err := scaler.FitTransform(X) // X が *sparse.CSR なら結果も *sparse.CSR
func NewStandardScaler(withMean, withStd bool) *StandardScaler {
	return &StandardScaler{
		state:    model.NewStateManager(),
		WithMean: withMean,
		WithStd:  withStd,
	}
}

// NewStandardScalerDefault はデフォルト設定でStandardScalerを作成する
func NewStandardScalerDefault() *StandardScaler {
	return NewStandardScaler(true, true)
}

// Fit は訓練データから統計情報（平均、標準偏差）を計算する
func (s *StandardScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("StandardScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	mean := make([]float64, c)
	variance := make([]float64, c)
	if csr, ok := X.(*sparse.CSR); ok {
		if s.WithMean {
			return errors.NewValueError("StandardScaler.Fit", "cannot center sparse data, use WithMean=false")
		}
		columnMeanVariance(csr, mean, variance)
	} else {
		col := make([]float64, r)
		for j := 0; j < c; j++ {
			mat.Col(col, j, X)
			mean[j], variance[j] = stat.PopMeanVariance(col, nil)
		}
	}

	scale := make([]float64, c)
	for j := range scale {
		scale[j] = 1.0
		if s.WithStd {
			if sd := math.Sqrt(variance[j]); sd >= minScale {
				scale[j] = sd
			}
		}
		if !s.WithMean {
			mean[j] = 0
		}
	}
	if err := errors.CheckNumericalStability("StandardScaler.Fit", scale, 0); err != nil {
		return err
	}

	s.Mean = mean
	s.Scale = scale
	s.state.SetDimensions(c, r)
	s.state.SetFitted()
	return nil
}

// columnMeanVariance computes population statistics per column, counting implicit zeros.
func columnMeanVariance(X *sparse.CSR, mean, variance []float64) {
	r, _ := X.Dims()
	data, indices, _ := X.Raw()
	sumSq := make([]float64, len(mean))
	for k, c := range indices {
		mean[c] += data[k]
		sumSq[c] += data[k] * data[k]
	}
	n := float64(r)
	for j := range mean {
		mean[j] /= n
		variance[j] = math.Max(0, sumSq[j]/n-mean[j]*mean[j])
	}
}

// Transform は学習済みの統計情報を使ってデータを標準化する
// *sparse.CSR の入力には *sparse.CSR を返す。
func (s *StandardScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.check("Transform", X); err != nil {
		return nil, err
	}
	if csr, ok := X.(*sparse.CSR); ok {
		if s.WithMean {
			return nil, errors.NewValueError("StandardScaler.Transform", "cannot center sparse data, use WithMean=false")
		}
		return csr.ScaleColumns(reciprocal(s.Scale))
	}

	r, c := X.Dims()
	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return (v - s.Mean[j]) / s.Scale[j]
	}, X)
	return result, nil
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (s *StandardScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.Fit(X); err != nil {
		return nil, err
	}
	return s.Transform(X)
}

// InverseTransform は標準化されたデータを元のスケールに戻す
func (s *StandardScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := s.check("InverseTransform", X); err != nil {
		return nil, err
	}
	if csr, ok := X.(*sparse.CSR); ok {
		if s.WithMean {
			return nil, errors.NewValueError("StandardScaler.InverseTransform", "cannot center sparse data, use WithMean=false")
		}
		return csr.ScaleColumns(s.Scale)
	}

	r, c := X.Dims()
	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 {
		return v*s.Scale[j] + s.Mean[j]
	}, X)
	return result, nil
}

func (s *StandardScaler) check(method string, X mat.Matrix) error {
	if err := s.state.RequireFitted("StandardScaler", method); err != nil {
		return err
	}
	_, c := X.Dims()
	return s.state.RequireFeatures("StandardScaler."+method, c)
}

// IsFitted returns whether Fit has been called successfully.
func (s *StandardScaler) IsFitted() bool { return s.state.IsFitted() }

// GetParams はスケーラーのパラメータを取得する
func (s *StandardScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"with_mean": s.WithMean,
		"with_std":  s.WithStd,
	}
}

// String はスケーラーの文字列表現を返す
func (s *StandardScaler) String() string {
	if !s.IsFitted() {
		return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t)", s.WithMean, s.WithStd)
	}
	return fmt.Sprintf("StandardScaler(with_mean=%t, with_std=%t, n_features=%d)",
		s.WithMean, s.WithStd, len(s.Scale))
}

// MaxAbsScaler は各特徴量を最大絶対値で割り、[-1, 1] に収める
// ゼロはゼロのままなので、疎行列の疎性を壊さない。
type MaxAbsScaler struct {
	state *model.StateManager

	// MaxAbs は学習データの各特徴量の最大絶対値
	MaxAbs []float64

	// Scale は各特徴量の割る数（最大絶対値が 0 の列は 1）
	Scale []float64
}

// NewMaxAbsScaler は新しいMaxAbsScalerを作成する
func NewMaxAbsScaler() *MaxAbsScaler {
	return &MaxAbsScaler{state: model.NewStateManager()}
}

// Fit は訓練データから各特徴量の最大絶対値を計算する
func (m *MaxAbsScaler) Fit(X mat.Matrix) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("MaxAbsScaler.Fit", "empty data", errors.ErrEmptyData)
	}

	maxAbs := make([]float64, c)
	if csr, ok := X.(*sparse.CSR); ok {
		data, indices, _ := csr.Raw()
		for k, j := range indices {
			maxAbs[j] = math.Max(maxAbs[j], math.Abs(data[k]))
		}
	} else {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				maxAbs[j] = math.Max(maxAbs[j], math.Abs(X.At(i, j)))
			}
		}
	}
	if err := errors.CheckNumericalStability("MaxAbsScaler.Fit", maxAbs, 0); err != nil {
		return err
	}

	scale := make([]float64, c)
	for j, v := range maxAbs {
		// 全てゼロの列はそのまま
		if v < minScale {
			scale[j] = 1.0
		} else {
			scale[j] = v
		}
	}

	m.MaxAbs = maxAbs
	m.Scale = scale
	m.state.SetDimensions(c, r)
	m.state.SetFitted()
	return nil
}

// Transform は学習済みの統計情報を使ってデータをスケーリングする
func (m *MaxAbsScaler) Transform(X mat.Matrix) (mat.Matrix, error) {
	return m.apply("Transform", X, reciprocal(m.Scale))
}

// FitTransform は訓練データで学習し、同じデータを変換する
func (m *MaxAbsScaler) FitTransform(X mat.Matrix) (mat.Matrix, error) {
	if err := m.Fit(X); err != nil {
		return nil, err
	}
	return m.Transform(X)
}

// InverseTransform はスケーリングされたデータを元の範囲に戻す
func (m *MaxAbsScaler) InverseTransform(X mat.Matrix) (mat.Matrix, error) {
	return m.apply("InverseTransform", X, m.Scale)
}

func (m *MaxAbsScaler) apply(method string, X mat.Matrix, factor []float64) (mat.Matrix, error) {
	if err := m.state.RequireFitted("MaxAbsScaler", method); err != nil {
		return nil, err
	}
	r, c := X.Dims()
	if err := m.state.RequireFeatures("MaxAbsScaler."+method, c); err != nil {
		return nil, err
	}
	if csr, ok := X.(*sparse.CSR); ok {
		return csr.ScaleColumns(factor)
	}
	result := mat.NewDense(r, c, nil)
	result.Apply(func(i, j int, v float64) float64 { return v * factor[j] }, X)
	return result, nil
}

// IsFitted returns whether Fit has been called successfully.
func (m *MaxAbsScaler) IsFitted() bool { return m.state.IsFitted() }

// GetParams はスケーラーのパラメータを取得する
func (m *MaxAbsScaler) GetParams() map[string]interface{} {
	return map[string]interface{}{}
}

// String はスケーラーの文字列表現を返す
func (m *MaxAbsScaler) String() string {
	if !m.IsFitted() {
		return "MaxAbsScaler()"
	}
	return fmt.Sprintf("MaxAbsScaler(n_features=%d)", len(m.Scale))
}

type maxAbsState struct {
	MaxAbs []float64
	Scale  []float64
}

// GobEncode lets model.SaveModel persist a fitted scaler next to an estimator.
func (m *MaxAbsScaler) GobEncode() ([]byte, error) {
	if err := m.state.RequireFitted("MaxAbsScaler", "GobEncode"); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(maxAbsState{MaxAbs: m.MaxAbs, Scale: m.Scale}); err != nil {
		return nil, errors.Wrap(err, "failed to encode MaxAbsScaler")
	}
	return buf.Bytes(), nil
}

// GobDecode restores a scaler written by GobEncode.
func (m *MaxAbsScaler) GobDecode(data []byte) error {
	var st maxAbsState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&st); err != nil {
		return errors.Wrap(err, "failed to decode MaxAbsScaler")
	}
	if len(st.Scale) == 0 || len(st.Scale) != len(st.MaxAbs) {
		return errors.NewValueError("MaxAbsScaler.GobDecode", "inconsistent scale vectors")
	}
	if m.state == nil {
		m.state = model.NewStateManager()
	}
	m.MaxAbs, m.Scale = st.MaxAbs, st.Scale
	m.state.SetDimensions(len(st.Scale), 0)
	m.state.SetFitted()
	return nil
}

func reciprocal(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = 1 / x
	}
	return out
}
