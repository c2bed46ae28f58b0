package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"drainwatch/internal/alerts"
	"drainwatch/internal/analytics"
	"drainwatch/internal/cache"
	"drainwatch/internal/config"
	"drainwatch/internal/dispatch"
	"drainwatch/internal/events"
	"drainwatch/internal/handlers"
	"drainwatch/internal/ingest"
	"drainwatch/internal/kafka"
	"drainwatch/internal/logger"
	"drainwatch/internal/metrics"
	"drainwatch/internal/mqtt"
	"drainwatch/internal/storage"
	"drainwatch/internal/ws"
)

// Server is the high-level coordinator: it wires storage, the MQTT edge, the
// Kafka backbone, the ingest pipeline, the alert lifecycle and the HTTP API,
// and owns their startup and shutdown order.
type Server struct {
	cfg *config.Config

	store      storage.Store
	closeStore func() error
	readCache  *cache.ReadingCache
	producer   *kafka.Producer
	pipeline   *ingest.Pipeline
	subscriber *mqtt.Subscriber
	hub        *ws.Hub
	httpServer *http.Server

	wg sync.WaitGroup
}

// New constructs a Server with the given config.
func New(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts all components and blocks until ctx is cancelled, then shuts
// down in reverse order: MQTT intake first, queued readings drained, HTTP
// last alongside the producer.
func (s *Server) Run(ctx context.Context) error {
	log := logger.WithComponent("server")
	log.Info().Msg("server starting")

	if err := s.initStore(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer s.closeStore()

	s.initCache(ctx)
	if s.readCache != nil {
		defer s.readCache.Close()
	}

	producer, err := kafka.NewProducer(s.cfg)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	s.producer = producer
	log.Info().
		Strs("brokers", s.cfg.KafkaBrokers).
		Str("readings_topic", s.cfg.ReadingsTopic).
		Str("alerts_topic", s.cfg.AlertsTopic).
		Msg("kafka producer initialized")

	s.hub = ws.NewHub()
	hubCtx, cancelHub := context.WithCancel(context.Background())
	defer cancelHub()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(hubCtx)
	}()

	publisher := events.Fanout{s.producer, s.hub}
	manager := alerts.NewManager(s.store, dispatch.New(s.store), publisher)

	var lastWriter ingest.LastWriter
	if s.readCache != nil {
		lastWriter = s.readCache
	}
	s.pipeline = ingest.New(ingest.Config{
		Shards:    s.cfg.IngestShards,
		QueueSize: s.cfg.IngestQueueSize,
	}, s.store, manager, lastWriter, publisher, s.producer)
	s.pipeline.Start()

	s.subscriber = mqtt.NewSubscriber(s.cfg, s.pipeline.Submit)
	if err := s.subscriber.Start(ctx); err != nil {
		// The broker may come up later; auto-reconnect keeps trying.
		log.Warn().Err(err).Msg("mqtt connect failed, relying on reconnect")
	}

	s.initHTTPServer(manager, analytics.New(s.store))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Info().Str("addr", s.cfg.ServerAddr).Msg("starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reportStats(ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runRetentionSweeper(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	return s.shutdown(cancelHub)
}

func (s *Server) initStore() error {
	store, err := storage.NewMySQLStore(s.cfg.GetDSN())
	if err != nil {
		return err
	}
	s.store = store
	s.closeStore = store.Close
	log := logger.WithComponent("server")
	log.Info().
		Str("host", s.cfg.DBHost).
		Str("database", s.cfg.DBName).
		Msg("mysql store initialized")
	return nil
}

// initCache connects to Redis. The cache is optional: when Redis is down the
// latest-reading view falls back to MySQL.
func (s *Server) initCache(ctx context.Context) {
	log := logger.WithComponent("server")
	readCache, err := cache.New(ctx, s.cfg.RedisAddr, s.cfg.RedisDB)
	if err != nil {
		log.Warn().Err(err).Str("addr", s.cfg.RedisAddr).Msg("redis unavailable, running without reading cache")
		return
	}
	s.readCache = readCache
	log.Info().Str("addr", s.cfg.RedisAddr).Msg("reading cache initialized")
}

func (s *Server) initHTTPServer(manager *alerts.Manager, aggregator *analytics.Aggregator) {
	var lastReader handlers.LastReader
	if s.readCache != nil {
		lastReader = s.readCache
	}
	api := handlers.New(handlers.Config{
		Store:      s.store,
		Pipeline:   s.pipeline,
		Manager:    manager,
		Aggregator: aggregator,
		Hub:        s.hub,
		Stats:      s.componentStats,
		LastReader: lastReader,
		JWTSecret:  s.cfg.JWTSecret,
	})

	s.httpServer = &http.Server{
		Addr:         s.cfg.ServerAddr,
		Handler:      api.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func (s *Server) componentStats() map[string]any {
	producerStats := s.producer.Stats()
	return map[string]any{
		"ingest": s.pipeline.Stats(),
		"kafka": map[string]uint64{
			"messages_sent":   producerStats.MessagesSent,
			"messages_failed": producerStats.MessagesFailed,
			"bytes_written":   producerStats.BytesWritten,
		},
	}
}

// shutdown stops intake first so queued readings drain before the producer
// and HTTP server close.
func (s *Server) shutdown(cancelHub context.CancelFunc) error {
	log := logger.WithComponent("server")
	log.Info().Msg("initiating graceful shutdown")

	log.Info().Msg("stopping mqtt subscriber")
	s.subscriber.Stop()

	done := make(chan struct{})
	go func() {
		s.pipeline.Stop()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("ingest pipeline drained")
	case <-time.After(15 * time.Second):
		log.Warn().Msg("ingest drain timeout, forcing exit")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("stopping HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	cancelHub()

	log.Info().Msg("closing kafka producer")
	if err := s.producer.Close(); err != nil {
		log.Error().Err(err).Msg("producer close error")
	}

	s.wg.Wait()
	log.Info().Msg("server stopped gracefully")
	return nil
}

// reportStats periodically logs component counters.
func (s *Server) reportStats(ctx context.Context) {
	log := logger.WithComponent("server")
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pipelineStats := s.pipeline.Stats()
			producerStats := s.producer.Stats()
			log.Info().
				Uint64("ingest_received", pipelineStats.Received).
				Uint64("ingest_accepted", pipelineStats.Accepted).
				Uint64("ingest_rejected", pipelineStats.Rejected).
				Uint64("ingest_dead_lettered", pipelineStats.DeadLettered).
				Uint64("kafka_sent", producerStats.MessagesSent).
				Uint64("kafka_failed", producerStats.MessagesFailed).
				Msg("stats")
		}
	}
}

// runRetentionSweeper purges readings older than the retention window on a
// fixed interval. Alerts are never purged.
func (s *Server) runRetentionSweeper(ctx context.Context) {
	log := logger.WithComponent("retention")
	ticker := time.NewTicker(s.cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-s.cfg.ReadingRetention)
			purgeCtx, cancel := context.WithTimeout(ctx, time.Minute)
			deleted, err := s.store.PurgeReadingsBefore(purgeCtx, cutoff)
			cancel()
			if err != nil {
				log.Error().Err(err).Msg("retention purge failed")
				continue
			}
			if deleted > 0 {
				metrics.ReadingsPurgedTotal.Add(float64(deleted))
				log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("purged old readings")
			}
		}
	}
}
