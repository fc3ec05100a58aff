// Package metrics は推定器の Score とコマンドラインの評価出力に使う指標を提供します。
//
// ベクトル版は mat.Vector を、Matrix 版は n×1 行列（Predict の戻り値）を受け取ります。
package metrics

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// residuals は yTrue - yPred を返す
func residuals(op string, yTrue, yPred mat.Vector) ([]float64, []float64, error) {
	n, err := checkPair(op, yTrue, yPred)
	if err != nil {
		return nil, nil, err
	}
	t := make([]float64, n)
	r := make([]float64, n)
	for i := 0; i < n; i++ {
		t[i] = yTrue.AtVec(i)
		r[i] = t[i] - yPred.AtVec(i)
	}
	return t, r, nil
}

// MSE は平均二乗誤差を計算する
func MSE(yTrue, yPred mat.Vector) (float64, error) {
	_, r, err := residuals("MSE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return floats.Dot(r, r) / float64(len(r)), nil
}

// RMSE は MSE の平方根
func RMSE(yTrue, yPred mat.Vector) (float64, error) {
	mse, err := MSE(yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(mse), nil
}

// MAE は平均絶対誤差を計算する
func MAE(yTrue, yPred mat.Vector) (float64, error) {
	_, r, err := residuals("MAE", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return floats.Norm(r, 1) / float64(len(r)), nil
}

// R2Score は決定係数 1 - RSS/TSS を計算する。
// yTrue が定数のときは定義できないのでエラーを返す。
func R2Score(yTrue, yPred mat.Vector) (float64, error) {
	t, r, err := residuals("R2Score", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	_, variance := stat.PopMeanVariance(t, nil)
	tss := variance * float64(len(t))
	if tss == 0 {
		return 0, errors.NewValueError("R2Score", "y_true has no variance")
	}
	return 1 - floats.Dot(r, r)/tss, nil
}

// ExplainedVarianceScore は 1 - Var(yTrue - yPred) / Var(yTrue)。
// 残差の平均（バイアス）は評価に含まれない点が R² と異なる。
func ExplainedVarianceScore(yTrue, yPred mat.Vector) (float64, error) {
	t, r, err := residuals("ExplainedVarianceScore", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	_, varTrue := stat.PopMeanVariance(t, nil)
	if varTrue == 0 {
		return 0, errors.NewValueError("ExplainedVarianceScore", "y_true has no variance")
	}
	_, varRes := stat.PopMeanVariance(r, nil)
	return 1 - varRes/varTrue, nil
}

// MSEMatrix は n×1 行列の先頭列どうしの MSE
func MSEMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	t, p, err := columnPair("MSEMatrix", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return MSE(t, p)
}

// R2ScoreMatrix は n×1 行列の入力に対して R² を計算する（SGDRegressor.Score 用）
func R2ScoreMatrix(yTrue, yPred mat.Matrix) (float64, error) {
	t, p, err := columnPair("R2ScoreMatrix", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	return R2Score(t, p)
}
