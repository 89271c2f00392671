package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/etmpass/notifications-service/pkg/logger"
)

const defaultShutdownTimeout = 15 * time.Second

type runner interface {
	Run(ctx context.Context) error
}

type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type ServiceParams struct {
	Logger          *logger.Logger
	Server          httpServer
	Consumer        runner
	Schedulers      []runner
	Dependencies    map[string]pinger
	Closers         []func() error
	ShutdownTimeout time.Duration
}

// Service runs the HTTP surface, the queue consumer and the schedulers
// until the context ends or one of them fails.
type Service struct {
	logg            *logger.Logger
	server          httpServer
	consumer        runner
	schedulers      []runner
	deps            map[string]pinger
	closers         []func() error
	shutdownTimeout time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Server == nil {
		return nil, errors.New("http server is required")
	}
	timeout := params.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	return &Service{
		logg:            params.Logger,
		server:          params.Server,
		consumer:        params.Consumer,
		schedulers:      params.Schedulers,
		deps:            params.Dependencies,
		closers:         params.Closers,
		shutdownTimeout: timeout,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := pingDependency(ctx, s.logg, name, s.deps[name].Ping); err != nil {
			return err
		}
	}
	s.logg.Info(ctx, "all service dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return multierr.Append(err, s.close())
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})

	if s.consumer != nil {
		g.Go(func() error {
			return ignoreCanceled(s.consumer.Run(gctx))
		})
	}
	for _, scheduler := range s.schedulers {
		g.Go(func() error {
			return ignoreCanceled(scheduler.Run(gctx))
		})
	}

	err := g.Wait()
	if err != nil {
		s.logg.Error(ctx, "service stopped unexpectedly", err)
	}
	return multierr.Append(err, s.close())
}

func (s *Service) close() error {
	var err error
	for _, closeFn := range s.closers {
		err = multierr.Append(err, closeFn())
	}
	return err
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
