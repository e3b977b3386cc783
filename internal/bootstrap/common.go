package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

type operation func(ctx context.Context) error

// gracefulShutdown blocks on SIGINT, SIGTERM or SIGHUP, then runs every
// cleanup operation concurrently. The returned channel closes once all of them
// returned. The process exits if they take longer than timeout.
func gracefulShutdown(ctx context.Context, timeout time.Duration, ops map[string]operation) <-chan struct{} {
	wait := make(chan struct{})
	go func() {
		s := make(chan os.Signal, 1)
		signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		<-s

		logrus.Info("shutting down")

		if timeout <= 0 {
			timeout = defaultShutdownTimeout
		}

		timeoutFunc := time.AfterFunc(timeout, func() {
			logrus.WithField("timeout_ms", timeout.Milliseconds()).Error("shutdown timeout elapsed, force exit")
			os.Exit(1)
		})
		defer timeoutFunc.Stop()

		opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		var wg sync.WaitGroup
		for key, op := range ops {
			wg.Add(1)
			go func() {
				defer wg.Done()

				logger := logrus.WithField("component", key)
				logger.Info("cleaning up")
				if err := op(opCtx); err != nil {
					logger.WithError(err).Error("clean up failed")
					return
				}
				logger.Info("shutdown gracefully")
			}()
		}

		wg.Wait()

		close(wait)
	}()

	return wait
}

const defaultShutdownTimeout = 15 * time.Second
