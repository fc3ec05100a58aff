package model

import (
	"encoding/gob"
	"io"
	"os"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

// SaveModel はモデルをファイルに保存する
//
// 推定器は GobEncode を ExportWeights 経由で実装しているので、そのまま渡せます。
//
// 使用例:
//
//	clf := linear_model.NewSGDClassifier()
//	// ... モデルの学習 ...
//	err := model.SaveModel(clf, "model.gob")
func SaveModel(model interface{}, filename string) (err error) {
	file, err := os.Create(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to create file %s", filename)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "failed to close model file")
		}
	}()
	return SaveModelToWriter(model, file)
}

// LoadModel はファイルからモデルを読み込む
//
// 使用例:
//
//	clf := linear_model.NewSGDClassifier()
//	err := model.LoadModel(clf, "model.gob")
func LoadModel(model interface{}, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", filename)
	}
	defer file.Close()
	return LoadModelFromReader(model, file)
}

// SaveModelToWriter はモデルをio.Writerに保存する
func SaveModelToWriter(model interface{}, w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(model); err != nil {
		return errors.Wrap(err, "failed to encode model")
	}
	return nil
}

// LoadModelFromReader はio.Readerからモデルを読み込む
func LoadModelFromReader(model interface{}, r io.Reader) error {
	if err := gob.NewDecoder(r).Decode(model); err != nil {
		return errors.Wrap(err, "failed to decode model")
	}
	return nil
}

// EncodeWeights は ModelWeights を JSON のバイト列にする。推定器の GobEncode から使う。
// ハイパーパラメータの数値は復号後 float64 になる。
func EncodeWeights(w *ModelWeights) ([]byte, error) {
	data, err := w.ToJSON()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeWeights は EncodeWeights の逆変換
func DecodeWeights(data []byte) (*ModelWeights, error) {
	var w ModelWeights
	if err := w.FromJSON(data); err != nil {
		return nil, err
	}
	return &w, nil
}
