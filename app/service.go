// Package app wires the configured components into a runnable service.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/vlm-project/vlmcore/api"
	"github.com/vlm-project/vlmcore/config"
	"github.com/vlm-project/vlmcore/core/allocation"
	"github.com/vlm-project/vlmcore/core/audit"
	"github.com/vlm-project/vlmcore/core/device"
	"github.com/vlm-project/vlmcore/core/fulfillment"
	"github.com/vlm-project/vlmcore/core/logger"
	coremetrics "github.com/vlm-project/vlmcore/core/metrics"
	"github.com/vlm-project/vlmcore/core/outbox"
	"github.com/vlm-project/vlmcore/core/protocol"
	corestore "github.com/vlm-project/vlmcore/core/store"
	"github.com/vlm-project/vlmcore/infra/hardware"
	infralogger "github.com/vlm-project/vlmcore/infra/logger"
	inframetrics "github.com/vlm-project/vlmcore/infra/metrics"
	infrastore "github.com/vlm-project/vlmcore/infra/store"
	"github.com/vlm-project/vlmcore/infra/telemetry"
	"github.com/vlm-project/vlmcore/internal/eventbus"
)

// Service is the assembled application.
type Service struct {
	cfg    *config.Config
	log    logger.Logger
	router http.Handler
	out    *outbox.Outbox
	link   *hardware.Link
	bus    *eventbus.Bus

	closers []func() error
}

// New builds the service from its configuration. Nothing is listening yet;
// Run starts the loops and listeners.
func New(cfg *config.Config) (*Service, error) {
	if err := infralogger.Configure(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return nil, err
	}
	s := &Service{cfg: cfg, log: infralogger.New("app")}

	var sink coremetrics.Sink = coremetrics.NopSink{}
	if cfg.Metrics.Enabled {
		sink = inframetrics.NewPromSink(nil)
	}

	st, err := s.openStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	s.bus = eventbus.New()
	rec := audit.NewRecorder(st, s.bus, infralogger.New("audit"))
	cursor := device.NewCursor(1)
	alloc := allocation.NewPolicy(st, infralogger.New("allocation"))

	s.link = hardware.NewLink(nil, rec, sink, infralogger.New("hardware"))
	s.out = outbox.New(s.link,
		time.Duration(cfg.Queue.RetryIntervalSeconds)*time.Second,
		infralogger.New("outbox"), sink)

	svc := fulfillment.New(st, alloc, s.out, cursor, rec, sink, infralogger.New("fulfillment"))

	var tel protocol.Telemetry
	if cfg.Telemetry.Enabled {
		w := telemetry.NewInfluxWriter(cfg.Telemetry.URL, cfg.Telemetry.Token,
			cfg.Telemetry.Org, cfg.Telemetry.Bucket, infralogger.New("telemetry"))
		s.closers = append(s.closers, func() error { w.Close(); return nil })
		tel = w
	}

	dispatcher := protocol.NewDispatcher(st, svc, s.out, cursor, rec, tel, infralogger.New("protocol"), sink)
	s.link.SetHandler(dispatcher)

	edge := api.NewServer(svc, st, s.out, s.link, rec, s.bus, cfg.Server.WSPath, infralogger.New("api"))
	s.router = edge.Router()
	return s, nil
}

func (s *Service) openStore(cfg config.StoreConfig) (corestore.Store, error) {
	switch cfg.Driver {
	case "memory":
		return infrastore.NewMemoryStore(), nil
	case "postgres":
		st, err := infrastore.NewPostgresStore(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		s.closers = append(s.closers, st.Close)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Run starts the delivery loop and the listeners, and blocks until ctx is
// cancelled or a listener fails.
func (s *Service) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.out.Run(ctx)

	errCh := make(chan error, 2)
	if s.cfg.Metrics.Enabled {
		go func() {
			if err := inframetrics.StartPromServer(ctx, s.cfg.Metrics.Addr, infralogger.New("metrics")); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.cfg.Server.Addr, Handler: s.router}
	go func() {
		s.log.Infof("listening on %s", s.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Infof("stopped with %d frame(s) pending", s.out.Depth())
	return nil
}

// Close releases every resource opened by New.
func (s *Service) Close() error {
	var first error
	if err := s.link.Close(); err != nil {
		first = err
	}
	s.bus.Close()
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
