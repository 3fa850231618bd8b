// Package logging builds the process-wide zap logger.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a logger at the given level. Development environments get a
// human-readable console encoder; everything else logs JSON for ingestion
// by the cloud log collector.
func New(level, nodeEnv string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if nodeEnv == "development" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), lvl)
	return zap.New(core, zap.AddCaller()), nil
}

// Sync flushes buffered entries, ignoring the EINVAL/ENOTTY errors that
// syncing stdout produces on Linux.
func Sync(logger *zap.Logger) error {
	err := logger.Sync()
	var errno syscall.Errno
	if err != nil && errors.As(err, &errno) && (errno == syscall.EINVAL || errno == syscall.ENOTTY) {
		return nil
	}
	return err
}
