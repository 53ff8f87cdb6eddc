package store

import (
	"context"
	"sort"
	"sync"

	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/logging"
)

// subscriber is one active Subscribe() call's delivery queue. A slow
// subscriber never blocks SaveAndPublish or other subscribers: overflow
// drops the oldest buffered record and increments dropped.
type subscriber struct {
	mu      sync.Mutex
	ch      chan domain.EnhancedAnalysisRecord
	dropped uint64
}

func (s *subscriber) deliver(rec domain.EnhancedAnalysisRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case s.ch <- rec:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped++
	default:
	}
	select {
	case s.ch <- rec:
	default:
		// Buffer is size 0 or another drain raced us; give up silently,
		// the next publish will retry delivery of a newer record.
	}
}

// InProcessStore is the fallback SharedStore backing for single-replica
// mode and tests: an ordered map plus a fan-out structure that duplicates
// each published record into every active subscription's buffered queue,
// grounded on the single-process websocket hub's broadcast-to-many shape
// generalized from one client to many.
type InProcessStore struct {
	mu      sync.RWMutex
	records map[string]domain.EnhancedAnalysisRecord

	subMu      sync.RWMutex
	subs       map[int]*subscriber
	nextSubID  int
	bufferSize int

	logger logging.Logger
}

func NewInProcessStore(bufferSize int, logger logging.Logger) *InProcessStore {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = logging.NoOp{}
	}
	return &InProcessStore{
		records:    make(map[string]domain.EnhancedAnalysisRecord),
		subs:       make(map[int]*subscriber),
		bufferSize: bufferSize,
		logger:     logger.With("store.inprocess"),
	}
}

func (s *InProcessStore) SaveAndPublish(ctx context.Context, record domain.EnhancedAnalysisRecord) error {
	s.mu.Lock()
	s.records[record.ID] = record
	s.mu.Unlock()

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		sub.deliver(record)
	}
	return nil
}

func (s *InProcessStore) Recent(ctx context.Context, limit int) ([]domain.EnhancedAnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.EnhancedAnalysisRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Signal.DetectedAt.Equal(out[j].Signal.DetectedAt) {
			return out[i].Signal.DetectedAt.After(out[j].Signal.DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InProcessStore) ByID(ctx context.Context, id string) (domain.EnhancedAnalysisRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok, nil
}

func (s *InProcessStore) Subscribe(ctx context.Context) (<-chan domain.EnhancedAnalysisRecord, func(), error) {
	sub := &subscriber{ch: make(chan domain.EnhancedAnalysisRecord, s.bufferSize)}

	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subs[id] = sub
	s.subMu.Unlock()

	cleanup := func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
	return sub.ch, cleanup, nil
}
