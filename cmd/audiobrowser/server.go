package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"audiobrowser/internal/event"
	"audiobrowser/internal/logging"
	"audiobrowser/internal/watcher"

	"github.com/thejerf/suture/v4"
)

const (
	httpServerShutdownTimeout = 5 * time.Second
	serviceStopTimeout        = 10 * time.Second
)

// fatalError stops the whole supervisor tree instead of restarting the
// service that returned it.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func (e *fatalError) Is(target error) bool {
	return target == suture.ErrTerminateSupervisorTree
}

// service adapts a run function to suture.Service and keeps the last error
// it returned so main can report why the tree stopped.
type service struct {
	name  string
	serve func(ctx context.Context) error

	mutex sync.Mutex
	err   error
}

func newService(name string, serve func(ctx context.Context) error) *service {
	return &service{name: name, serve: serve}
}

func (s *service) Serve(ctx context.Context) error {
	s.mutex.Lock()
	s.err = nil
	s.mutex.Unlock()

	err := s.serve(ctx)

	s.mutex.Lock()
	s.err = err
	s.mutex.Unlock()
	return err
}

func (s *service) Error() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.err
}

func (s *service) String() string {
	return s.name
}

func watcherService(fileWatcher *watcher.Watcher, bus *event.Bus[watcher.ChangeEvent]) *service {
	return newService("watcher", func(ctx context.Context) error {
		return fileWatcher.Run(ctx, bus)
	})
}

// httpService serves until ctx is cancelled and then shuts the server down
// gracefully. A listen failure is fatal.
func httpService(server *http.Server, logger *logging.Logger) *service {
	return newService("http", func(ctx context.Context) error {
		listener, err := net.Listen("tcp", server.Addr)
		if err != nil {
			return &fatalError{err: fmt.Errorf("listen on %s: %w", server.Addr, err)}
		}
		logger.Info("listening", map[string]string{
			"addr": listener.Addr().String(),
		})

		serveErr := make(chan error, 1)
		go func() {
			serveErr <- server.Serve(listener)
		}()

		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownContext, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownContext); err != nil {
			logger.Warn("http server shutdown failed", map[string]string{
				"error": err.Error(),
			})
			_ = server.Close()
		}
		<-serveErr
		return nil
	})
}

func supervisorSpec(logger *logging.Logger) suture.Spec {
	return suture.Spec{
		EventHook: func(e suture.Event) {
			logger.Warn("supervisor event", map[string]string{
				"event": e.String(),
			})
		},
		Timeout:           serviceStopTimeout,
		FailureThreshold:  5,
		FailureBackoff:    2 * time.Second,
		PassThroughPanics: true,
	}
}

// runServices supervises the given services until ctx is cancelled or one of
// them fails fatally. The first fatal service error is returned.
func runServices(ctx context.Context, logger *logging.Logger, services ...*service) error {
	supervisor := suture.New("audiobrowser", supervisorSpec(logger))
	for _, svc := range services {
		supervisor.Add(svc)
	}

	err := supervisor.Serve(ctx)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	for _, svc := range services {
		var fatal *fatalError
		if errors.As(svc.Error(), &fatal) {
			return fmt.Errorf("%s: %w", svc.name, fatal.err)
		}
	}
	return err
}
