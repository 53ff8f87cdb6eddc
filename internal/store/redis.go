package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/threatanalysis/coordinator/internal/domain"
	"github.com/threatanalysis/coordinator/internal/logging"
	"github.com/threatanalysis/coordinator/internal/resilience"
)

const (
	recordKeyPrefix    = "threats:record:"
	indexKey           = "threats:index"
	eventsChannel      = "threats:events"
	compressionThreshold = 32 * 1024
	recordTTL          = 24 * time.Hour

	// Retry constants grounded on the teacher's RedisExecutionDebugStore
	// Layer 1 resilience: 3 attempts, exponential backoff capped at 2s, and,
	// once 5 operations have failed with no success in between, a cooldown
	// lasting 30s from the latest failure.
	retryMaxAttempts    = 3
	retryInitialBackoff = 100 * time.Millisecond
	retryMaxBackoff     = 2 * time.Second
	retryFailureWindow  = 30 * time.Second
	retryMaxFailures    = 5
)

// RedisStore is the shared-broker SharedStore backing required for
// multi-replica correctness, grounded on the teacher's Redis execution
// debug store: compression above a size threshold with a leading flag
// byte, a sorted-set ordering index, and a bounded retry with exponential
// backoff and failure cooldown plus a circuit breaker, both wrapping the
// save, index, publish and read round trips (the cleanup deletes and the
// subscription are issued directly), so a broker blip surfaces as
// PersistenceFailure instead of hanging the caller.
type RedisStore struct {
	client  *goredis.Client
	breaker *resilience.CircuitBreaker
	logger  logging.Logger

	failureMu    sync.Mutex
	failureCount int
	lastFailure  time.Time
}

// NewRedisStore connects to redisURL (same options shape as redis.ParseURL
// expects) and verifies connectivity with a Ping before returning.
func NewRedisStore(ctx context.Context, redisURL string, breaker *resilience.CircuitBreaker, logger logging.Logger) (*RedisStore, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		opt = &goredis.Options{Addr: redisURL}
	}
	client := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis connection failed: %w", err)
	}

	if logger == nil {
		logger = logging.NoOp{}
	}
	return &RedisStore{client: client, breaker: breaker, logger: logger.With("store.redis")}, nil
}

// execute wraps fn in a bounded retry with exponential backoff, grounded on
// the teacher's RedisExecutionDebugStore.executeWithRetry shape, and, when a
// breaker was supplied, wraps that retrying operation in the circuit
// breaker too so a sustained outage trips open instead of retrying forever
// on every call.
func (s *RedisStore) execute(ctx context.Context, fn func() error) error {
	op := func() error { return s.retryWithBackoff(ctx, fn) }
	if s.breaker == nil {
		return op()
	}
	return s.breaker.Execute(ctx, op)
}

// retryWithBackoff mirrors the teacher's Layer 1 resilience: a cooldown once
// recent failures pile up, then up to retryMaxAttempts with exponential
// backoff between them. A goredis.Nil result (key not found) is a normal
// outcome, not a failure, so it short-circuits without consuming a retry.
func (s *RedisStore) retryWithBackoff(ctx context.Context, fn func() error) error {
	s.failureMu.Lock()
	if s.failureCount >= retryMaxFailures && time.Since(s.lastFailure) < retryFailureWindow {
		failures := s.failureCount
		s.failureMu.Unlock()
		return fmt.Errorf("store: redis in cooldown after %d failures", failures)
	}
	s.failureMu.Unlock()

	var lastErr error
	backoff := retryInitialBackoff
	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			s.failureMu.Lock()
			s.failureCount = 0
			s.failureMu.Unlock()
			return nil
		}
		if err == goredis.Nil {
			return err
		}

		lastErr = err
		s.logger.Warn("redis operation failed, retrying", logging.Fields{
			"attempt": attempt, "max_attempts": retryMaxAttempts, "backoff": backoff.String(), "error": err.Error(),
		})

		if attempt < retryMaxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > retryMaxBackoff {
				backoff = retryMaxBackoff
			}
		}
	}

	s.failureMu.Lock()
	s.failureCount++
	s.lastFailure = time.Now()
	s.failureMu.Unlock()

	return fmt.Errorf("store: redis operation failed after %d attempts: %w", retryMaxAttempts, lastErr)
}

// SaveAndPublish sets the record, indexes it, then publishes. If the
// publish step fails the stored key is deleted so the store never carries
// an unpublished record.
func (s *RedisStore) SaveAndPublish(ctx context.Context, record domain.EnhancedAnalysisRecord) error {
	payload, err := serialize(record)
	if err != nil {
		return fmt.Errorf("store: serialize record: %w", err)
	}

	key := recordKeyPrefix + record.ID
	err = s.execute(ctx, func() error {
		return s.client.Set(ctx, key, payload, recordTTL).Err()
	})
	if err != nil {
		return fmt.Errorf("store: save record: %w", err)
	}

	err = s.execute(ctx, func() error {
		return s.client.ZAdd(ctx, indexKey, &goredis.Z{
			Score:  float64(record.Signal.DetectedAt.UnixNano()),
			Member: record.ID,
		}).Err()
	})
	if err != nil {
		s.logger.Warn("failed to index record, record remains retrievable by id only", logging.Fields{
			"id": record.ID, "error": err.Error(),
		})
	}

	published, err := json.Marshal(record)
	if err != nil {
		_ = s.client.Del(ctx, key).Err()
		return fmt.Errorf("store: marshal record for publish: %w", err)
	}
	err = s.execute(ctx, func() error {
		return s.client.Publish(ctx, eventsChannel, published).Err()
	})
	if err != nil {
		_ = s.client.Del(ctx, key).Err()
		_ = s.client.ZRem(ctx, indexKey, record.ID).Err()
		return fmt.Errorf("store: publish record: %w", err)
	}
	return nil
}

// Recent fetches candidate ids from the sorted set, loads each record, and
// sorts precisely in application code (DetectedAt descending, id ascending
// on ties) rather than relying on the sorted set's tie-break, since the
// index's score alone cannot express the id tie-break.
func (s *RedisStore) Recent(ctx context.Context, limit int) ([]domain.EnhancedAnalysisRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	// Fetch a generous window so ties near the cutoff are still resolved
	// correctly before truncation.
	window := int64(limit*2 + 10)

	var ids []string
	err := s.execute(ctx, func() error {
		var zErr error
		ids, zErr = s.client.ZRevRange(ctx, indexKey, 0, window-1).Result()
		return zErr
	})
	if err != nil {
		return nil, fmt.Errorf("store: list index: %w", err)
	}

	records := make([]domain.EnhancedAnalysisRecord, 0, len(ids))
	for _, id := range ids {
		rec, ok, err := s.ByID(ctx, id)
		if err != nil {
			s.logger.Warn("failed to load indexed record, skipping", logging.Fields{"id": id, "error": err.Error()})
			continue
		}
		if !ok {
			// Index entry outlived the record's TTL; best-effort cleanup.
			_ = s.client.ZRem(ctx, indexKey, id).Err()
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if !records[i].Signal.DetectedAt.Equal(records[j].Signal.DetectedAt) {
			return records[i].Signal.DetectedAt.After(records[j].Signal.DetectedAt)
		}
		return records[i].ID < records[j].ID
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *RedisStore) ByID(ctx context.Context, id string) (domain.EnhancedAnalysisRecord, bool, error) {
	var data []byte
	err := s.execute(ctx, func() error {
		var getErr error
		data, getErr = s.client.Get(ctx, recordKeyPrefix+id).Bytes()
		return getErr
	})
	if err == goredis.Nil {
		return domain.EnhancedAnalysisRecord{}, false, nil
	}
	if err != nil {
		return domain.EnhancedAnalysisRecord{}, false, fmt.Errorf("store: get record: %w", err)
	}

	record, err := deserialize(data)
	if err != nil {
		return domain.EnhancedAnalysisRecord{}, false, fmt.Errorf("store: deserialize record: %w", err)
	}
	return record, true, nil
}

// Subscribe drains the broker's pubsub channel into a per-caller buffered
// channel, grounded on the teacher's command-store subscription pattern:
// a cancelable sub-context, a Receive confirmation before returning, and a
// cleanup function that unsubscribes and closes the output channel.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan domain.EnhancedAnalysisRecord, func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	pubsub := s.client.Subscribe(subCtx, eventsChannel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("store: subscribe: %w", err)
	}

	out := make(chan domain.EnhancedAnalysisRecord, 64)
	go func() {
		defer close(out)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var record domain.EnhancedAnalysisRecord
				if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
					s.logger.Warn("failed to decode published record", logging.Fields{"error": err.Error()})
					continue
				}
				select {
				case out <- record:
				case <-subCtx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() {
		cancel()
		_ = pubsub.Close()
	}
	return out, cleanup, nil
}

// serialize mirrors the teacher's execution-debug-store wire format: JSON,
// gzip-compressed above a size threshold, with a leading flag byte.
func serialize(record domain.EnhancedAnalysisRecord) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	if len(data) > compressionThreshold {
		var buf bytes.Buffer
		buf.WriteByte(1)
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return append([]byte{0}, data...), nil
}

func deserialize(data []byte) (domain.EnhancedAnalysisRecord, error) {
	var record domain.EnhancedAnalysisRecord
	if len(data) == 0 {
		return record, fmt.Errorf("empty data")
	}

	var jsonData []byte
	if data[0] == 1 {
		gz, err := gzip.NewReader(bytes.NewReader(data[1:]))
		if err != nil {
			return record, err
		}
		defer gz.Close()
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(gz); err != nil {
			return record, err
		}
		jsonData = buf.Bytes()
	} else {
		jsonData = data[1:]
	}

	if err := json.Unmarshal(jsonData, &record); err != nil {
		return record, err
	}
	return record, nil
}
