package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/solarledger/internal/errors"
	"codeberg.org/mutker/solarledger/internal/logger"
)

const (
	exitFailure   = 1
	exitNotFound  = 2
	exitDrift     = 3
	exitIntegrity = 4
)

func main() {
	// Reinitialized with the configured level once config is loaded.
	if err := logger.Init("info", logger.IsService()); err != nil {
		os.Exit(exitFailure)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		var coded errors.Error
		if errors.As(err, &coded) {
			logger.ErrorWithCode(coded).Msg("Command failed")
		} else {
			logger.Error().Err(err).Msg("Command failed")
		}
		cancel()
		os.Exit(exitCode(err))
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func exitCode(err error) int {
	switch {
	case errors.HasCode(err, errors.ErrRecordNotFound):
		return exitNotFound
	case errors.HasCode(err, errors.ErrIntegrityViolation):
		return exitIntegrity
	case errors.HasCode(err, errors.ErrDriftDetected):
		return exitDrift
	default:
		return exitFailure
	}
}
