// Command sgd trains and applies sparse SGD linear models on svmlight files.
//
//	sgd train   -data train.svm -model model.gob [-task classify|regress] [-config params.json] [-scale] [-plot loss.png]
//	sgd predict -data test.svm  -model model.gob [-out predictions.txt] [-score]
//
// The config file is a JSON object of hyperparameters under their sklearn names, e.g.
//
//	{"loss": "log", "penalty": "elasticnet", "alpha": 0.0001, "rho": 0.85, "n_iter": 10, "n_jobs": -1}
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
	"github.com/YuminosukeSato/sparsesgd/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, term.IsTerminal(int(os.Stderr.Fd())))
	stop()
	os.Exit(code)
}

const usage = `Usage: sgd <command> [flags]

Commands:
  train     fit a model on an svmlight file and save it
  predict   load a saved model and predict an svmlight file

Run "sgd <command> -h" for the flags of a command.
`

// command runs one subcommand. console selects human-readable log output instead of
// JSON lines.
type command func(ctx context.Context, args []string, stdout, stderr io.Writer, console bool) error

var commands = map[string]command{
	"train":   train,
	"predict": predict,
}

// loggerProvider configures logging once a subcommand has parsed its flags.
var loggerProvider = func(level string, w io.Writer, console bool) (log.LoggerProvider, error) {
	p, err := log.SetupLogger(level, w, console)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// run dispatches a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, console bool) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 2
	}

	// panic も終了コード 1 のエラーとして報告する
	err := errors.SafeExecute("sgd "+args[0], func() error {
		return cmd(ctx, args[1:], stdout, stderr, console)
	})
	if errors.Is(err, errUsage) {
		return 2
	}
	if err != nil {
		fmt.Fprintf(stderr, "sgd %s: %v\n", args[0], err)
		return 1
	}
	return 0
}
