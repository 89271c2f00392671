package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/etmpass/notifications-service/pkg/logger"
)

type fakeServer struct {
	mu       sync.Mutex
	stopped  chan struct{}
	listenFn func() error
	shutdown bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{stopped: make(chan struct{})}
}

func (s *fakeServer) ListenAndServe() error {
	if s.listenFn != nil {
		return s.listenFn()
	}
	<-s.stopped
	return http.ErrServerClosed
}

func (s *fakeServer) Shutdown(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.shutdown {
		s.shutdown = true
		close(s.stopped)
	}
	return nil
}

type blockingRunner struct {
	started chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context) error {
	close(r.started)
	<-ctx.Done()
	return ctx.Err()
}

type failingRunner struct{ err error }

func (r failingRunner) Run(context.Context) error { return r.err }

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	server := newFakeServer()
	consumer := &blockingRunner{started: make(chan struct{})}
	scheduler := &blockingRunner{started: make(chan struct{})}
	closed := 0

	svc, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Server:     server,
		Consumer:   consumer,
		Schedulers: []runner{scheduler},
		Closers: []func() error{
			func() error { closed++; return nil },
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	<-consumer.started
	<-scheduler.started
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}
	if !server.shutdown {
		t.Fatal("expected http server shutdown")
	}
	if closed != 1 {
		t.Fatalf("expected closers to run once, ran %d", closed)
	}
}

func TestServiceRunReturnsComponentFailure(t *testing.T) {
	server := newFakeServer()
	boom := errors.New("subscription gone")

	svc, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Server:   server,
		Consumer: failingRunner{err: boom},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	err = svc.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected consumer failure, got %v", err)
	}
	if !server.shutdown {
		t.Fatal("expected http server shutdown after failure")
	}
}

func TestServiceRunFailsReadiness(t *testing.T) {
	server := newFakeServer()
	server.listenFn = func() error {
		t.Fatal("server must not start when a dependency is down")
		return nil
	}
	closed := false

	svc, err := NewService(ServiceParams{
		Logger: testLogger(),
		Server: server,
		Dependencies: map[string]pinger{
			"redis": pingFunc(func(context.Context) error { return errors.New("refused") }),
		},
		Closers: []func() error{
			func() error { closed = true; return nil },
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected readiness error")
	}
	if !closed {
		t.Fatal("expected closers to run")
	}
}

func TestNewServiceRequiresServer(t *testing.T) {
	if _, err := NewService(ServiceParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected error without server")
	}
}
