package serverapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"pgrest/internal/schemarefresh"
)

// Start launches the HTTP server goroutine. It requires Init to have completed.
func (a *App) Start() (<-chan error, error) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()

	if !a.initialized {
		return nil, fmt.Errorf("app is not initialized")
	}
	if a.started {
		return a.serverErrors, nil
	}

	a.serverErrors = startServer(a.cfg, a.logger, a.srv)
	a.started = true
	return a.serverErrors, nil
}

// WatchReloadSignals queues a schema reload for every signal received until
// ctx ends. Reloads arriving while one is pending are coalesced.
func (a *App) WatchReloadSignals(ctx context.Context, signals <-chan os.Signal) {
	a.stateMu.Lock()
	manager := a.manager
	a.stateMu.Unlock()
	if manager == nil || signals == nil {
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signals:
				a.logger.Info("schema reload requested", slog.String("signal", sig.String()))
				manager.Trigger(schemarefresh.TriggerSignal)
			}
		}
	}()
}

// WaitForStop waits for either an OS signal or a server error.
func (a *App) WaitForStop(stop <-chan os.Signal, serverErrors <-chan error) (reason string, err error) {
	if serverErrors == nil {
		a.stateMu.Lock()
		serverErrors = a.serverErrors
		a.stateMu.Unlock()
	}

	if stop == nil && serverErrors == nil {
		return "", fmt.Errorf("both stop and serverErrors channels are nil")
	}

	select {
	case err := <-serverErrors:
		if err == nil {
			return "server_error", fmt.Errorf("server stopped unexpectedly")
		}
		return "server_error", fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		if a.logger != nil {
			a.logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		}
		return "signal", nil
	}
}
