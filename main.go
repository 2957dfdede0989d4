package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"mdimage/cmd"
)

// main is the entry point of the application.
func main() {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// Status lines own stdout; logs go to stderr.
	level := zap.NewAtomicLevelAt(zap.WarnLevel)
	config := zap.Config{
		Level:            level,
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd.Execute(ctx, logger, level)
	}()

	waitForShutdown(done, sigChan, cancel, shutdownTimeout, logger)
}

const shutdownTimeout = 5 * time.Second

// waitForShutdown blocks until the command finishes. After a signal the
// command gets at most grace to wind down.
func waitForShutdown(done <-chan struct{}, sigChan <-chan os.Signal, cancel context.CancelFunc, grace time.Duration, logger *zap.Logger) {
	select {
	case <-done:
		logger.Debug("command completed")
	case sig := <-sigChan:
		logger.Warn("received shutdown signal", zap.String("signal", sig.String()))
		cancel()

		select {
		case <-done:
			logger.Info("shutdown completed")
		case <-time.After(grace):
			logger.Warn("shutdown timed out", zap.Duration("timeout", grace))
		}
	}
}
