package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/assetledger-backend/internal/payments"
	"github.com/angelmondragon/assetledger-backend/pkg/config"
	"github.com/angelmondragon/assetledger-backend/pkg/logger"
	"github.com/angelmondragon/assetledger-backend/pkg/metrics"
)

const (
	defaultHeartbeat = 30 * time.Second
	heartbeatJob     = "worker-heartbeat"
)

// errConsumerStopped is returned when the consumer exits cleanly while the
// worker is still meant to be running.
var errConsumerStopped = errors.New("payments consumer stopped")

type dependencyPinger interface {
	Ping(context.Context) error
}

type consumerRunner interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	DB       dependencyPinger
	Redis    dependencyPinger
	PubSub   dependencyPinger
	Payments consumerRunner
	Metrics  *metrics.JobMetrics
	// Heartbeat defaults to 30s.
	Heartbeat time.Duration
}

type dependency struct {
	name   string
	pinger dependencyPinger
}

type Service struct {
	logg      *logger.Logger
	deps      []dependency
	payments  consumerRunner
	metrics   *metrics.JobMetrics
	heartbeat time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.Payments == nil:
		return nil, errors.New("payments consumer is required")
	}

	deps := []dependency{
		{"database", params.DB},
		{"redis", params.Redis},
		{"pubsub", params.PubSub},
	}
	for _, dep := range deps {
		if dep.pinger == nil {
			return nil, fmt.Errorf("%s client is required", dep.name)
		}
	}

	heartbeat := params.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &Service{
		logg:      params.Logger,
		deps:      deps,
		payments:  params.Payments,
		metrics:   params.Metrics,
		heartbeat: heartbeat,
	}, nil
}

// ensureReadiness pings every dependency in order and stops at the first
// failure.
func (s *Service) ensureReadiness(ctx context.Context) error {
	for _, dep := range s.deps {
		if err := dep.pinger.Ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", dep.name), "worker.dependency_unready", err)
			return fmt.Errorf("%s ping failed: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "worker.ready")
	return nil
}

// Run blocks until ctx is cancelled or the payments consumer exits. The
// database heartbeat runs alongside the consumer and stops with it.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.payments.Run(gctx)
		if err == nil {
			err = errConsumerStopped
		}
		return err
	})
	g.Go(func() error {
		s.beat(gctx)
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil {
		s.logg.Info(ctx, "worker.stopping")
		return ctx.Err()
	}
	s.metrics.IncFailure(payments.ConsumerName)
	s.logg.Error(ctx, "consumer stopped unexpectedly", err)
	return err
}

func (s *Service) beat(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		if err := s.deps[0].pinger.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.IncFailure(heartbeatJob)
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "worker.heartbeat.db_unreachable")
			continue
		}
		s.metrics.IncSuccess(heartbeatJob)
		s.metrics.ObserveDuration(heartbeatJob, time.Since(start))
	}
}
