package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"drainwatch/internal/alerts"
	"drainwatch/internal/errs"
	"drainwatch/internal/events"
	"drainwatch/internal/logger"
	"drainwatch/internal/metrics"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
	"drainwatch/internal/threshold"
)

// LastWriter caches the most recent reading per manhole.
type LastWriter interface {
	SetLast(ctx context.Context, reading *models.SensorReading) error
}

// DeadLetterer receives payloads the pipeline could not process.
type DeadLetterer interface {
	DeadLetter(ctx context.Context, payload []byte, reason string) error
}

// Config holds pipeline tuning knobs.
type Config struct {
	Shards    int
	QueueSize int
}

// Pipeline turns raw telemetry into evaluated, persisted readings and raises
// alerts for critical ones. Messages are sharded by manhole id onto
// single-goroutine shards, so readings from one manhole are always processed
// in arrival order while distinct manholes proceed in parallel.
type Pipeline struct {
	store      storage.Store
	manager    *alerts.Manager
	cache      LastWriter
	events     events.Publisher
	deadLetter DeadLetterer

	shards []chan shardItem
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// mu guards stopped so Submit never sends on a closed shard channel.
	mu      sync.RWMutex
	stopped bool

	received     atomic.Uint64
	accepted     atomic.Uint64
	rejected     atomic.Uint64
	deadLettered atomic.Uint64
}

type shardItem struct {
	raw     []byte
	reading *models.SensorReading
}

// New wires the pipeline. cache, publisher and deadLetter may be nil.
func New(cfg Config, store storage.Store, manager *alerts.Manager, cache LastWriter, publisher events.Publisher, deadLetter DeadLetterer) *Pipeline {
	if cfg.Shards <= 0 {
		cfg.Shards = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if publisher == nil {
		publisher = events.Noop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		store:      store,
		manager:    manager,
		cache:      cache,
		events:     publisher,
		deadLetter: deadLetter,
		shards:     make([]chan shardItem, cfg.Shards),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := range p.shards {
		p.shards[i] = make(chan shardItem, cfg.QueueSize)
	}
	return p
}

// Start launches one goroutine per shard.
func (p *Pipeline) Start() {
	log := logger.WithComponent("ingest")
	log.Info().Int("shards", len(p.shards)).Msg("starting ingest pipeline")
	for i := range p.shards {
		p.wg.Add(1)
		go p.runShard(i)
	}
}

// Stop drains the shard queues and waits for in-flight work. Submissions
// arriving after Stop go to the dead-letter path.
func (p *Pipeline) Stop() {
	log := logger.WithComponent("ingest")
	log.Info().Msg("stopping ingest pipeline")
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	for _, ch := range p.shards {
		close(ch)
	}
	p.wg.Wait()
	p.cancel()
	log.Info().Msg("ingest pipeline stopped")
}

// payload is the wire shape sensors publish over MQTT.
type payload struct {
	ManholeID       string                `json:"manholeId"`
	Timestamp       time.Time             `json:"timestamp"`
	Sensors         models.SensorChannels `json:"sensors"`
	Thresholds      *models.ThresholdSet  `json:"thresholds,omitempty"`
	LastCalibration *time.Time            `json:"lastCalibration,omitempty"`
}

// Submit decodes a raw telemetry payload and queues it on the shard owning
// its manhole. Undecodable payloads go straight to the dead-letter topic.
func (p *Pipeline) Submit(raw []byte) {
	p.received.Add(1)

	var msg payload
	if err := json.Unmarshal(raw, &msg); err != nil {
		metrics.TelemetryDecodeErrors.Inc()
		p.toDeadLetter(raw, fmt.Sprintf("decode: %v", err))
		return
	}
	reading := buildReading(msg)

	// A transport handler can outlive shutdown; an arrival after Stop must
	// not hit a closed shard channel.
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		p.toDeadLetter(raw, "pipeline stopped")
		return
	}

	shard := p.shards[shardIndex(reading.ManholeID, len(p.shards))]
	select {
	case shard <- shardItem{raw: raw, reading: reading}:
		metrics.IngestQueueSize.Inc()
	case <-p.ctx.Done():
	}
}

// Process runs one reading through the pipeline synchronously. Used by the
// HTTP ingest route, which needs the evaluated reading in its response.
func (p *Pipeline) Process(ctx context.Context, reading *models.SensorReading) (*models.SensorReading, error) {
	if reading.Timestamp.IsZero() {
		reading.Timestamp = time.Now().UTC()
	}
	if (reading.Thresholds == models.ThresholdSet{}) {
		reading.Thresholds = models.DefaultThresholds()
	}
	if err := reading.Validate(); err != nil {
		metrics.TelemetryMessagesTotal.WithLabelValues("rejected").Inc()
		p.rejected.Add(1)
		return nil, err
	}
	if _, err := p.store.ManholeByID(ctx, reading.ManholeID); err != nil {
		metrics.TelemetryMessagesTotal.WithLabelValues("rejected").Inc()
		p.rejected.Add(1)
		return nil, err
	}

	result := threshold.Evaluate(reading.Sensors, reading.Thresholds)
	reading.Severity = result.Severity
	reading.AlertTypes = result.Tags
	metrics.EvaluationsTotal.WithLabelValues(string(result.Severity)).Inc()

	if err := p.store.CreateReading(ctx, reading); err != nil {
		return nil, err
	}
	metrics.ReadingsPersistedTotal.Inc()
	metrics.TelemetryMessagesTotal.WithLabelValues("accepted").Inc()
	p.accepted.Add(1)

	if p.cache != nil {
		// Best effort; the store stays the source of truth.
		_ = p.cache.SetLast(ctx, reading)
	}
	if err := p.events.Publish(ctx, events.Event{
		Type:      events.TypeReading,
		Timestamp: time.Now().UTC(),
		Payload:   reading,
	}); err != nil {
		log := logger.WithComponent("ingest")
		log.Warn().Err(err).
			Str("manhole_id", reading.ManholeID).
			Msg("reading event publish failed")
	}

	if result.IsCritical() {
		p.handleCritical(ctx, reading, result)
	}
	return reading, nil
}

// handleCritical marks the manhole and raises one alert per critical tag.
// Alert failures do not fail the reading: the sample is already persisted.
func (p *Pipeline) handleCritical(ctx context.Context, reading *models.SensorReading, result threshold.Result) {
	log := logger.WithManhole(reading.ManholeID)

	if err := p.store.MarkManholeAttention(ctx, reading.ManholeID, reading.Timestamp); err != nil {
		log.Error().Err(err).Msg("failed to mark manhole for attention")
	}

	for _, tag := range result.Tags {
		alertType, ok := threshold.AlertTypeForTag(tag)
		if !ok {
			continue
		}
		_, err := p.manager.Create(ctx, alerts.CreateRequest{
			ManholeID:  reading.ManholeID,
			SensorID:   reading.ID,
			AlertType:  alertType,
			AlertLevel: models.AlertLevelCritical,
			Timestamp:  reading.Timestamp,
		})
		if errors.Is(err, errs.ErrNoAvailableWorker) {
			// The alert exists and stays open until a worker frees up.
			log.Warn().Str("alert_type", string(alertType)).Msg("critical alert created, no worker available")
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("alert_type", string(alertType)).Msg("failed to create alert")
		}
	}
}

func (p *Pipeline) runShard(id int) {
	defer p.wg.Done()

	log := logger.WithComponent("ingest").With().Int("shard", id).Logger()

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("shard panic recovered")
			metrics.PanicsRecovered.WithLabelValues("ingest").Inc()
		}
	}()

	log.Debug().Msg("shard started")
	defer log.Debug().Msg("shard stopped")

	for item := range p.shards[id] {
		metrics.IngestQueueSize.Dec()
		ctx, cancel := context.WithTimeout(p.ctx, 10*time.Second)
		_, err := p.Process(ctx, item.reading)
		cancel()
		if err != nil {
			if errs.IsValidation(err) || errs.IsNotFound(err) {
				p.toDeadLetter(item.raw, err.Error())
				continue
			}
			log.Error().Err(err).
				Str("manhole_id", item.reading.ManholeID).
				Msg("failed to process reading")
		}
	}
}

func (p *Pipeline) toDeadLetter(raw []byte, reason string) {
	p.deadLettered.Add(1)
	metrics.TelemetryMessagesTotal.WithLabelValues("dead_letter").Inc()
	if p.deadLetter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.deadLetter.DeadLetter(ctx, raw, reason); err != nil {
		log := logger.WithComponent("ingest")
		log.Error().Err(err).Msg("dead-letter publish failed")
	}
}

// Stats reports pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:     p.received.Load(),
		Accepted:     p.accepted.Load(),
		Rejected:     p.rejected.Load(),
		DeadLettered: p.deadLettered.Load(),
	}
}

// Stats holds pipeline counters.
type Stats struct {
	Received     uint64 `json:"received"`
	Accepted     uint64 `json:"accepted"`
	Rejected     uint64 `json:"rejected"`
	DeadLettered uint64 `json:"deadLettered"`
}

func buildReading(msg payload) *models.SensorReading {
	reading := &models.SensorReading{
		ManholeID:       msg.ManholeID,
		Timestamp:       msg.Timestamp,
		Sensors:         msg.Sensors,
		LastCalibration: msg.LastCalibration,
		Thresholds:      models.DefaultThresholds(),
	}
	if msg.Thresholds != nil {
		reading.Thresholds = *msg.Thresholds
	}
	return reading
}

// shardIndex hashes the manhole id with FNV-1a so one manhole always lands
// on the same shard.
func shardIndex(manholeID string, shards int) int {
	h := fnv.New32a()
	h.Write([]byte(manholeID))
	return int(h.Sum32() % uint32(shards))
}
