package main

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/exp/slog"

	"github.com/techcorp/payment-core/payments"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout))

	app := payments.NewApp(logger, payments.DefaultConfig())
	if err := app.Start(); err != nil {
		logger.Error("starting app", "err", err)
		os.Exit(1)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done

	app.Shutdown()
}
