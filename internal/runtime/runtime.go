// Package runtime assembles the daemon: telemetry, journal, pipeline and the
// HTTP and bus transports.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voice/internal/bus"
	"github.com/loqalabs/loqa-voice/internal/busapi"
	"github.com/loqalabs/loqa-voice/internal/config"
	"github.com/loqalabs/loqa-voice/internal/device"
	"github.com/loqalabs/loqa-voice/internal/journal"
	"github.com/loqalabs/loqa-voice/internal/llm"
	"github.com/loqalabs/loqa-voice/internal/logging"
	"github.com/loqalabs/loqa-voice/internal/natsserver"
	"github.com/loqalabs/loqa-voice/internal/pipeline"
	"github.com/loqalabs/loqa-voice/internal/server"
	"github.com/loqalabs/loqa-voice/internal/telemetry"
)

const pruneInterval = time.Hour

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger
	prober device.Prober

	telemetry *telemetry.Providers
	journal   *journal.Store
	pipeline  *pipeline.Pipeline
	http      *server.Server
	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	busAPI    *busapi.Service

	ready atomic.Bool
	wg    sync.WaitGroup
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithProber overrides accelerator detection.
func WithProber(p device.Prober) Option {
	return func(r *Runtime) { r.prober = p }
}

func New(cfg config.Config, logger *slog.Logger, opts ...Option) *Runtime {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Runtime{cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ready reports whether every enabled transport is serving.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Start brings the daemon up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := r.setup(ctx); err != nil {
		r.shutdown()
		return err
	}

	errCh := make(chan error, 1)
	if r.http != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := r.http.Listen(); err != nil {
				r.logger.Error("http server failed", logging.Error(err))
				select {
				case errCh <- err:
				default:
				}
				cancel()
			}
		}()
		r.http.SetReady(true)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx)
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("device", string(r.pipeline.Device())),
		slog.Bool("http", r.http != nil),
		slog.Bool("bus", r.busAPI != nil))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	r.wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

func (r *Runtime) setup(ctx context.Context) error {
	tel, err := telemetry.Setup(ctx, r.cfg, r.logger, true)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel

	store, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	r.journal = store

	telObserver, err := pipeline.NewTelemetryObserver(nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create pipeline metrics: %w", err)
	}
	p, err := pipeline.New(pipeline.Options{
		Config:   r.cfg,
		Prober:   r.prober,
		Observer: pipeline.Observers(telObserver, pipeline.NewJournalObserver(store, r.logger)),
		Logger:   r.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	r.pipeline = p

	if r.cfg.HTTP.Enabled {
		r.http = server.New(p, server.Options{
			Addr:           fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port),
			LLMType:        llm.NormalizeKind(r.cfg.LLM.Provider),
			BodyLimit:      r.cfg.HTTP.MaxUploadBytes,
			RequestTimeout: time.Duration(r.cfg.HTTP.RequestTimeout) * time.Millisecond,
			Metrics:        tel.MetricsHandler(),
		}, r.logger)
	}

	if r.cfg.Bus.Enabled {
		if err := r.startBus(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runtime) startBus(ctx context.Context, p *pipeline.Pipeline) error {
	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	r.nats = embedded

	client, err := bus.Connect(ctx, r.cfg.Bus, r.cfg.RuntimeName, embedded.ClientURL(), r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	r.bus = client

	svc := busapi.NewService(ctx, client, p, busapi.Options{
		Subject:    r.cfg.Bus.Subject,
		QueueGroup: r.cfg.Bus.QueueGroup,
		Timeout:    time.Duration(r.cfg.HTTP.RequestTimeout) * time.Millisecond,
	}, r.logger)
	if err := svc.Start(); err != nil {
		return err
	}
	r.busAPI = svc
	return nil
}

func (r *Runtime) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.journal.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("journal prune failed", logging.Error(err))
			}
		}
	}
}

// shutdown releases whatever setup created, in reverse order.
func (r *Runtime) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if r.http != nil {
		if err := r.http.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", logging.Error(err))
		}
	}
	if r.busAPI != nil {
		r.busAPI.Close()
	}
	r.bus.Close()
	r.nats.Shutdown()
	if r.pipeline != nil {
		if err := r.pipeline.Close(); err != nil {
			r.logger.Error("pipeline close error", logging.Error(err))
		}
	}
	if err := r.journal.Close(); err != nil {
		r.logger.Error("journal close error", logging.Error(err))
	}
	if err := r.telemetry.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", logging.Error(err))
	}
}
