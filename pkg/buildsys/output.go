package buildsys

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type logKey struct{}

var nopLogger = zerolog.Nop()

func log(ctx context.Context) *zerolog.Logger {
	logger := ctx.Value(logKey{})
	if logger == nil {
		return &nopLogger
	}

	return logger.(*zerolog.Logger)
}

// WithLogger attaches the given logger to the context. Tasks and build scripts log through it.
func WithLogger(ctx context.Context, logger *zerolog.Logger) context.Context {
	return context.WithValue(ctx, logKey{}, logger)
}

type stdioKey struct{}

type stdio struct {
	stdout io.Writer
	stderr io.Writer
}

// WithStdio sets the writers task commands print to. By default they inherit the process' stdout and stderr.
func WithStdio(ctx context.Context, stdout, stderr io.Writer) context.Context {
	return context.WithValue(ctx, stdioKey{}, stdio{stdout: stdout, stderr: stderr})
}

func getStdio(ctx context.Context) (io.Writer, io.Writer) {
	value, ok := ctx.Value(stdioKey{}).(stdio)
	if !ok {
		return os.Stdout, os.Stderr
	}

	return value.stdout, value.stderr
}
