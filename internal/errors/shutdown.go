package errors

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// GracefulShutdownHandler cancels a context on SIGINT/SIGTERM and runs
// registered cleanup functions in reverse registration order
type GracefulShutdownHandler struct {
	mu            sync.Mutex
	shutdownFuncs []func() error
	signalChan    chan os.Signal
	cancel        context.CancelFunc
	once          sync.Once
}

// NewGracefulShutdownHandler creates a new graceful shutdown handler
func NewGracefulShutdownHandler() *GracefulShutdownHandler {
	return &GracefulShutdownHandler{
		signalChan: make(chan os.Signal, 1),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (gsh *GracefulShutdownHandler) RegisterShutdownFunc(fn func() error) {
	gsh.mu.Lock()
	defer gsh.mu.Unlock()
	gsh.shutdownFuncs = append(gsh.shutdownFuncs, fn)
}

// Start listens for shutdown signals and returns a context canceled on the first one
func (gsh *GracefulShutdownHandler) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	gsh.cancel = cancel
	signal.Notify(gsh.signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-gsh.signalChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx
}

// Shutdown stops listening for signals and runs the registered cleanup functions once
func (gsh *GracefulShutdownHandler) Shutdown() {
	gsh.once.Do(func() {
		signal.Stop(gsh.signalChan)
		if gsh.cancel != nil {
			gsh.cancel()
		}

		gsh.mu.Lock()
		funcs := gsh.shutdownFuncs
		gsh.mu.Unlock()

		for i := len(funcs) - 1; i >= 0; i-- {
			if err := funcs[i](); err != nil {
				fmt.Fprintf(os.Stderr, "Error during shutdown: %v\n", err)
			}
		}
	})
}
