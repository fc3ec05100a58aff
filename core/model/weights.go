package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// ModelWeights はモデルの重みを表す構造体（シリアライゼーション用）
//
// 線形モデルは係数行列を1行（二値分類・回帰）または K 行（one-vs-all）で持つため、
// Coefficients は行ごとのスライスになっています。
type ModelWeights struct {
	// ModelType はモデルの種類（SGDClassifier, SGDRegressor）
	ModelType string `json:"model_type"`

	// Version はモデルのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Coefficients は重み係数 (n_rows × n_features)
	Coefficients [][]float64 `json:"coefficients"`

	// Intercepts は行ごとの切片
	Intercepts []float64 `json:"intercepts"`

	// Classes は分類器が学習したクラスラベル（回帰では空）
	Classes []float64 `json:"classes,omitempty"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters"`

	// Metadata は追加のメタデータ（学習時の統計等）
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// ToJSON はModelWeightsをJSON形式にシリアライズ
func (mw *ModelWeights) ToJSON() ([]byte, error) {
	data, err := json.MarshalIndent(mw, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal model weights")
	}
	return data, nil
}

// FromJSON はJSON形式からModelWeightsをデシリアライズ
func (mw *ModelWeights) FromJSON(data []byte) error {
	if err := json.Unmarshal(data, mw); err != nil {
		return errors.Wrap(err, "failed to unmarshal model weights")
	}
	return nil
}

// NFeatures returns the width of the coefficient matrix.
func (mw *ModelWeights) NFeatures() int {
	if len(mw.Coefficients) == 0 {
		return 0
	}
	return len(mw.Coefficients[0])
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return errors.NewValidationError("model_type", "is required", mw.ModelType)
	}
	if mw.Version == "" {
		return errors.NewValidationError("version", "is required", mw.Version)
	}
	if !mw.IsFitted && len(mw.Coefficients) > 0 {
		return errors.NewValidationError("coefficients", "unfitted model should not have coefficients", len(mw.Coefficients))
	}
	if !mw.IsFitted {
		return nil
	}
	if len(mw.Coefficients) == 0 {
		return errors.NewValidationError("coefficients", "fitted model must have coefficients", 0)
	}
	if len(mw.Intercepts) != len(mw.Coefficients) {
		return errors.NewInputShapeError("import", "intercepts", []int{len(mw.Coefficients)}, []int{len(mw.Intercepts)})
	}
	nFeatures := mw.NFeatures()
	for i, row := range mw.Coefficients {
		if len(row) != nFeatures {
			return errors.NewInputShapeError("import", fmt.Sprintf("coefficients[%d]", i), []int{nFeatures}, []int{len(row)})
		}
		if err := errors.CheckNumericalStability("import", row, 0); err != nil {
			return err
		}
	}
	for _, b := range mw.Intercepts {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			return errors.NewNumericalInstabilityError("import", []float64{b}, 0)
		}
	}
	// クラスは昇順で重複なし（予測時に添字で引くため）
	for i, c := range mw.Classes {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return errors.NewValidationError("classes", "labels must be finite", c)
		}
		if i > 0 && c <= mw.Classes[i-1] {
			return errors.NewValidationError("classes", "must be strictly increasing", mw.Classes)
		}
	}
	if n := len(mw.Classes); n > 0 {
		// 二値分類は1行、多クラスはクラス数と同じ行数
		want := n
		if n == 2 {
			want = 1
		}
		if len(mw.Coefficients) != want {
			return errors.NewInputShapeError("import", "coefficients", []int{want, nFeatures}, []int{len(mw.Coefficients), nFeatures})
		}
	}
	return nil
}

// Checksum は係数と切片の SHA-256 を16進文字列で返す
func (mw *ModelWeights) Checksum() string {
	return HashWeights(mw.Coefficients, mw.Intercepts)
}

// HashWeights は係数行列と切片から重みハッシュを計算する（GetWeightHash 用）
func HashWeights(coef [][]float64, intercept []float64) string {
	payload := struct {
		C [][]float64 `json:"c"`
		B []float64   `json:"b"`
	}{coef, intercept}
	data, _ := json.Marshal(payload)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Clone はModelWeightsのディープコピーを作成
func (mw *ModelWeights) Clone() *ModelWeights {
	clone := &ModelWeights{
		ModelType:       mw.ModelType,
		Version:         mw.Version,
		IsFitted:        mw.IsFitted,
		Coefficients:    make([][]float64, len(mw.Coefficients)),
		Intercepts:      append([]float64(nil), mw.Intercepts...),
		Classes:         append([]float64(nil), mw.Classes...),
		Hyperparameters: make(map[string]interface{}, len(mw.Hyperparameters)),
		Metadata:        make(map[string]interface{}, len(mw.Metadata)),
	}
	for i, row := range mw.Coefficients {
		clone.Coefficients[i] = append([]float64(nil), row...)
	}
	for k, v := range mw.Hyperparameters {
		clone.Hyperparameters[k] = v
	}
	for k, v := range mw.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
