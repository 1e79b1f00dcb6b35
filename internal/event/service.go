package event

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Service is the async event writer. Emit performs a non-blocking channel
// send (drops on overflow — best-effort is the contract); a background
// goroutine flushes batches to the Repo. The goroutine runs to completion
// on Stop, so queued events survive client disconnects and shutdown.
type Service struct {
	repo      *Repo
	log       zerolog.Logger
	queue     chan Event
	batchSize int
	interval  time.Duration

	flushReq chan chan struct{}
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// ServiceConfig configures the event service.
type ServiceConfig struct {
	Repo          *Repo
	Logger        zerolog.Logger
	QueueSize     int
	FlushBatch    int
	FlushInterval time.Duration
}

// NewService creates a new event service.
func NewService(cfg ServiceConfig) *Service {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 8192
	}
	batchSize := cfg.FlushBatch
	if batchSize <= 0 {
		batchSize = 256
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Service{
		repo:      cfg.Repo,
		log:       cfg.Logger,
		queue:     make(chan Event, queueSize),
		batchSize: batchSize,
		interval:  interval,
		flushReq:  make(chan chan struct{}),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.flushLoop()
}

// Stop signals the flush loop to stop, drains remaining entries, and returns.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Emit enqueues an event. Non-blocking; drops on overflow. Events with an
// empty campaign ID are skipped (orphan guard).
func (s *Service) Emit(e Event) {
	if e.CampaignID == "" {
		return
	}
	if e.TsNs == 0 {
		e.TsNs = time.Now().UnixNano()
	}
	select {
	case s.queue <- e:
	default:
		s.log.Warn().Str("event_id", e.EventID).Msg("event queue full, dropping")
	}
}

// Flush synchronously drains the queue to the repo. Used by tests and the
// postback path, which must observe the click row it links against.
func (s *Service) Flush() {
	done := make(chan struct{})
	select {
	case s.flushReq <- done:
		<-done
	case <-s.stopCh:
	}
}

// Repo exposes the underlying repository for read paths.
func (s *Service) Repo() *Repo {
	return s.repo
}

// flushLoop runs until stopCh is closed, flushing on batch-size or timer.
func (s *Service) flushLoop() {
	defer s.wg.Done()

	batch := make([]Event, 0, s.batchSize)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}

		case done := <-s.flushReq:
			batch = s.drain(batch)
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
			close(done)

		case <-s.stopCh:
			batch = s.drain(batch)
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

func (s *Service) drain(batch []Event) []Event {
	for {
		select {
		case e := <-s.queue:
			batch = append(batch, e)
			if len(batch) >= s.batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		default:
			return batch
		}
	}
}

func (s *Service) flush(entries []Event) {
	if n, err := s.repo.InsertBatch(entries); err != nil {
		s.log.Error().Err(err).Int("count", len(entries)).Msg("event flush failed")
	} else if n > 0 {
		s.log.Debug().Int("count", n).Msg("events flushed")
	}
}
