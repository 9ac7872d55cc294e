package service

import (
	"admin_service/internal/domain"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditSink persists audit events.
type AuditSink interface {
	Write(event domain.AuditEvent) error
}

// AuditService drains audit events to a sink on a pool of workers so the
// request path never waits on the sink.
type AuditService struct {
	sink         AuditSink
	queue        chan domain.AuditEvent
	workers      int
	shutdownChan chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
	logger       *zap.Logger
}

func NewAuditService(sink AuditSink, workers, queueSize int, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	service := &AuditService{
		sink:         sink,
		queue:        make(chan domain.AuditEvent, queueSize),
		workers:      workers,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	service.startWorkers()

	return service
}

// Record queues event. It gives up when ctx is done or the service is
// shutting down.
func (s *AuditService) Record(ctx context.Context, event domain.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case <-s.shutdownChan:
		s.logger.Warn("Audit event dropped after shutdown",
			zap.String("action", string(event.Action)),
			zap.Uint32("account", event.Target.ID))
		return
	default:
	}
	select {
	case s.queue <- event:
	case <-ctx.Done():
		s.logger.Warn("Audit event dropped",
			zap.String("action", string(event.Action)),
			zap.Uint32("account", event.Target.ID),
			zap.Error(ctx.Err()))
	case <-s.shutdownChan:
	}
}

func (s *AuditService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("Audit worker started", zap.Int("worker_id", id))

	for {
		select {
		case event := <-s.queue:
			s.write(event, id)
		case <-s.shutdownChan:
			s.drain(id)
			s.logger.Debug("Audit worker stopping", zap.Int("worker_id", id))
			return
		}
	}
}

func (s *AuditService) drain(workerID int) {
	for {
		select {
		case event := <-s.queue:
			s.write(event, workerID)
		default:
			return
		}
	}
}

func (s *AuditService) write(event domain.AuditEvent, workerID int) {
	if err := s.sink.Write(event); err != nil {
		s.logger.Error("Failed to write audit event",
			zap.String("action", string(event.Action)),
			zap.Uint32("account", event.Target.ID),
			zap.Int("worker_id", workerID),
			zap.Error(err))
	}
}

// Shutdown stops the workers once the queued events are written.
func (s *AuditService) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Audit service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ZapSink writes each event as one structured log line.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger.Named("audit")}
}

func (s *ZapSink) Write(event domain.AuditEvent) error {
	s.logger.Info("audit",
		zap.Uint32("actor", event.Actor.ID),
		zap.String("actor_name", event.Actor.Name),
		zap.String("action", string(event.Action)),
		zap.Uint32("target", event.Target.ID),
		zap.String("target_name", event.Target.Name),
		zap.String("subject", event.Subject),
		zap.Time("timestamp", event.Timestamp))
	return nil
}

// RecordingSink keeps events in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (s *RecordingSink) Write(event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *RecordingSink) Events() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AuditEvent(nil), s.events...)
}
