package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/sparsesgd/pkg/log"
)

// writeBlobs は原点を挟んで分離できる 2 クラスのデータを書く
func writeBlobs(t *testing.T, dir string) string {
	t.Helper()
	var sb strings.Builder
	for i := 0; i < 20; i++ {
		v := 1 + 0.1*float64(i%5)
		fmt.Fprintf(&sb, "1 1:%g 2:1\n", v)
		fmt.Fprintf(&sb, "2 1:%g 2:-1\n", -v)
	}
	path := filepath.Join(dir, "blobs.svm")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestTrainPredictClassifier(t *testing.T) {
	dir := t.TempDir()
	data := writeBlobs(t, dir)
	modelPath := filepath.Join(dir, "model.gob")
	plotPath := filepath.Join(dir, "loss.png")
	config := filepath.Join(dir, "params.json")
	require.NoError(t, os.WriteFile(config, []byte(`{"n_iter": 5, "seed": 3, "n_jobs": 1}`), 0o644))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"train", "-data", data, "-model", modelPath, "-config", config, "-scale", "-plot", plotPath,
	}, &stdout, &stderr, false)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "saved classify model")
	assert.FileExists(t, modelPath)
	assert.FileExists(t, plotPath)

	out := filepath.Join(dir, "pred.txt")
	stdout.Reset()
	stderr.Reset()
	code = run(context.Background(), []string{
		"predict", "-data", data, "-model", modelPath, "-out", out, "-score",
	}, &stdout, &stderr, false)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stderr.String(), "accuracy: 1.0000")
	assert.Contains(t, stderr.String(), "auc: 1.0000")

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 40)
	for i, l := range lines {
		want := "1"
		if i%2 == 1 {
			want = "2"
		}
		assert.Equal(t, want, l, "row %d", i)
	}
}

func TestTrainPredictRegressor(t *testing.T) {
	dir := t.TempDir()
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		x := float64(i%10) / 10
		fmt.Fprintf(&sb, "%g 0:%g\n", 2*x+1, x)
	}
	data := filepath.Join(dir, "lin.svm")
	require.NoError(t, os.WriteFile(data, []byte(sb.String()), 0o644))
	modelPath := filepath.Join(dir, "reg.gob")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{
		"train", "-task", "regress", "-zero-based", "-data", data, "-model", modelPath,
	}, &stdout, &stderr, false)
	require.Equal(t, 0, code, stderr.String())

	stdout.Reset()
	stderr.Reset()
	code = run(context.Background(), []string{
		"predict", "-zero-based", "-score", "-data", data, "-model", modelPath,
	}, &stdout, &stderr, false)
	require.Equal(t, 0, code, stderr.String())
	assert.Len(t, strings.Split(strings.TrimSpace(stdout.String()), "\n"), 30)
	assert.Contains(t, stderr.String(), "r2: ")
	assert.Contains(t, stderr.String(), "rmse: ")

	// 存在しないデータファイル
	code = run(context.Background(), []string{"predict", "-data", filepath.Join(dir, "none.svm"), "-model", modelPath}, &stdout, &stderr, false)
	assert.Equal(t, 1, code)
}

func TestRunUsageErrors(t *testing.T) {
	dir := t.TempDir()
	data := writeBlobs(t, dir)
	ctx := context.Background()

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", nil, 2},
		{"unknown command", []string{"serve"}, 2},
		{"help", []string{"help"}, 0},
		{"missing data", []string{"train"}, 2},
		{"bad flag", []string{"predict", "-nope"}, 2},
		{"bad task", []string{"train", "-data", data, "-task", "cluster", "-model", filepath.Join(dir, "m")}, 1},
		{"bad log level", []string{"train", "-data", data, "-log-level", "loud"}, 1},
		{"missing config", []string{"train", "-data", data, "-config", filepath.Join(dir, "none.json")}, 1},
		{"missing model", []string{"predict", "-data", data, "-model", filepath.Join(dir, "none.gob")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.code, run(ctx, tt.args, &stdout, &stderr, false))
		})
	}
}

func TestTrainRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	data := writeBlobs(t, dir)
	for name, body := range map[string]string{
		"not json":      `{"alpha":`,
		"unknown param": `{"momentum": 0.9}`,
		"bad loss":      `{"loss": "squared_loss"}`,
	} {
		t.Run(name, func(t *testing.T) {
			config := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".json")
			require.NoError(t, os.WriteFile(config, []byte(body), 0o644))
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), []string{"train", "-data", data, "-config", config,
				"-model", filepath.Join(dir, "m.gob")}, &stdout, &stderr, false)
			assert.Equal(t, 1, code)
			assert.NoFileExists(t, filepath.Join(dir, "m.gob"))
		})
	}
}

func TestTrainCancelled(t *testing.T) {
	dir := t.TempDir()
	data := writeBlobs(t, dir)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	code := run(ctx, []string{"train", "-data", data, "-model", filepath.Join(dir, "m.gob")}, &stdout, &stderr, false)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "context canceled")
}

// useTestLogger routes the command loggers into a capture buffer for one test.
func useTestLogger(t *testing.T) *log.TestLogger {
	t.Helper()
	p := log.NewTestLoggerProvider(log.LevelInfo)
	prev := loggerProvider
	loggerProvider = func(level string, _ io.Writer, _ bool) (log.LoggerProvider, error) {
		lv, err := log.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		p.SetLevel(lv)
		return p, nil
	}
	t.Cleanup(func() { loggerProvider = prev })
	return p.Captured()
}

func TestCommandLoggers(t *testing.T) {
	logs := useTestLogger(t)
	dir := t.TempDir()
	data := writeBlobs(t, dir)
	modelPath := filepath.Join(dir, "model.gob")

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run(context.Background(), []string{"train", "-data", data, "-model", modelPath}, &stdout, &stderr, false))
	require.Equal(t, 0, run(context.Background(), []string{"predict", "-data", data, "-model", modelPath, "-score"}, &stdout, &stderr, false))

	assert.True(t, logs.ContainsMessage("Loaded training data"))
	assert.True(t, logs.ContainsMessage("Training finished"))
	assert.True(t, logs.ContainsMessage("Scored predictions"))
	assert.True(t, logs.ContainsField(log.ComponentKey, "cmd/sgd"))
	assert.True(t, logs.ContainsField(log.OperationKey, log.OperationFit))
	assert.True(t, logs.ContainsField(log.OperationKey, log.OperationPredict))
	// ログはプロバイダに出力され stderr には書かれない
	assert.NotContains(t, stderr.String(), "Training finished")

	logs.Clear()
	code := run(context.Background(), []string{"train", "-data", data, "-model", modelPath, "-log-level", "error"}, &stdout, &stderr, false)
	require.Equal(t, 0, code)
	assert.False(t, logs.ContainsMessage("Training finished"))
}

func TestRunReportsPanics(t *testing.T) {
	commands["crash"] = func(context.Context, []string, io.Writer, io.Writer, bool) error {
		panic("index out of range")
	}
	t.Cleanup(func() { delete(commands, "crash") })

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, run(context.Background(), []string{"crash"}, &stdout, &stderr, false))
	assert.Contains(t, stderr.String(), "panic in sgd crash: index out of range")
}
