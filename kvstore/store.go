// Package kvstore provides size-bounded, quota-checked key/value persistence
// for snapline entity records, with time-ordered eviction under pressure.
//
// Records live in a flat namespace keyed by entity prefix ("timeline-",
// "comparison-"). The whole namespace is capped at a hard byte ceiling;
// when a write would exceed it, the oldest records are evicted wholesale
// until enough headroom exists, oldest-first by the timestamp embedded in
// each record's JSON body.
//
// Usage:
//
//	backend, err := kvstore.NewSQLite(db)
//	store := kvstore.New(backend, kvstore.Config{})
//	err = store.Write(ctx, "timeline-"+id, payload)
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DefaultCeiling is the hard byte cap for the whole namespace: 4 MiB, a
// deliberately conservative fraction of a typical per-origin allowance,
// leaving headroom for the persistence engine's own bookkeeping.
const DefaultCeiling = 4 << 20

// ErrQuotaExceeded is returned when a write cannot be satisfied even after
// eviction. Callers must surface it to the end user, not retry silently.
var ErrQuotaExceeded = errors.New("kvstore: storage quota exceeded")

// Config configures a Store.
type Config struct {
	// Ceiling is the hard byte cap for the namespace. Default: DefaultCeiling.
	Ceiling int64 `json:"ceiling" yaml:"ceiling"`

	// EntityPrefixes are the key prefixes eviction considers. Records under
	// other prefixes are never evicted. Default: "timeline-", "comparison-".
	EntityPrefixes []string `json:"entity_prefixes" yaml:"entity_prefixes"`

	// Logger for eviction diagnostics. Defaults to slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Ceiling <= 0 {
		c.Ceiling = DefaultCeiling
	}
	if len(c.EntityPrefixes) == 0 {
		c.EntityPrefixes = []string{"timeline-", "comparison-"}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store wraps a Backend with quota accounting and eviction.
//
// The evict-then-write sequence is guarded by a mutex so concurrent writers
// in a multi-goroutine host cannot interleave between the usage check and
// the write.
type Store struct {
	mu       sync.Mutex
	backend  Backend
	ceiling  int64
	prefixes []string
	logger   *slog.Logger
}

// New creates a Store over the given backend.
func New(backend Backend, cfg Config) *Store {
	cfg.defaults()
	return &Store{
		backend:  backend,
		ceiling:  cfg.Ceiling,
		prefixes: cfg.EntityPrefixes,
		logger:   cfg.Logger,
	}
}

// Ceiling returns the configured byte cap.
func (s *Store) Ceiling() int64 { return s.ceiling }

// Usage returns the current byte footprint of the namespace.
func (s *Store) Usage(ctx context.Context) (int64, error) {
	return s.backend.Usage(ctx)
}

// Read returns the value stored under key, with found=false when absent.
func (s *Store) Read(ctx context.Context, key string) (string, bool, error) {
	return s.backend.Get(ctx, key)
}

// Remove deletes key. Removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	return s.backend.Delete(ctx, key)
}

// KeysWithPrefix returns all keys carrying the given prefix, sorted.
func (s *Store) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Write stores value under key, evicting old records first if the record
// would push usage past the ceiling. Returns ErrQuotaExceeded when eviction
// cannot free enough headroom.
func (s *Store) Write(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recLen := int64(len(key) + len(value))
	usage, err := s.backend.Usage(ctx)
	if err != nil {
		return fmt.Errorf("kvstore: usage: %w", err)
	}

	if usage+recLen > s.ceiling {
		need := recLen - (s.ceiling - usage)
		freed, err := s.evictLocked(ctx, need)
		if err != nil {
			return fmt.Errorf("kvstore: evict: %w", err)
		}
		if freed < need {
			return fmt.Errorf("%w: need %d bytes, freed %d", ErrQuotaExceeded, need, freed)
		}
	}

	if err := s.backend.Put(ctx, key, value); err != nil {
		return fmt.Errorf("kvstore: put: %w", err)
	}
	return nil
}

// EvictOldest deletes recognized entity records oldest-first until at least
// need bytes are freed or no candidates remain. It reports whether the
// request was satisfied.
func (s *Store) EvictOldest(ctx context.Context, need int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	freed, err := s.evictLocked(ctx, need)
	return freed >= need, err
}

type evictCandidate struct {
	key  string
	size int64
	ts   int64
}

// evictLocked runs the eviction pass. Caller holds s.mu.
func (s *Store) evictLocked(ctx context.Context, need int64) (int64, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return 0, err
	}

	var candidates []evictCandidate
	for _, k := range keys {
		if !s.recognized(k) {
			continue
		}
		value, found, err := s.backend.Get(ctx, k)
		if err != nil || !found {
			continue
		}
		candidates = append(candidates, evictCandidate{
			key:  k,
			size: int64(len(k) + len(value)),
			ts:   recordTimestamp(value),
		})
	}

	// Oldest first; unparsable records carry timestamp 0 and go first.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ts != candidates[j].ts {
			return candidates[i].ts < candidates[j].ts
		}
		return candidates[i].key < candidates[j].key
	})

	// Plan the victim set up front so batch-capable backends can drop it
	// in a single transaction.
	var victims []evictCandidate
	var planned int64
	for _, c := range candidates {
		if planned >= need {
			break
		}
		victims = append(victims, c)
		planned += c.size
	}
	if len(victims) == 0 {
		return 0, nil
	}

	if bd, ok := s.backend.(BatchDeleter); ok {
		batch := make([]string, len(victims))
		for i, v := range victims {
			batch[i] = v.key
		}
		if err := bd.DeleteBatch(ctx, batch); err != nil {
			return 0, err
		}
		for _, v := range victims {
			s.logger.Info("evicted record", "key", v.key, "bytes", v.size, "record_ts", v.ts)
		}
		return planned, nil
	}

	var freed int64
	for _, v := range victims {
		if err := s.backend.Delete(ctx, v.key); err != nil {
			s.logger.Warn("eviction delete failed", "key", v.key, "error", err)
			continue
		}
		freed += v.size
		s.logger.Info("evicted record", "key", v.key, "bytes", v.size, "record_ts", v.ts)
	}
	return freed, nil
}

func (s *Store) recognized(key string) bool {
	for _, p := range s.prefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// recordTimestamp extracts the last-update timestamp from a record's JSON
// body: updatedAt, else timestamp, else 0. Malformed bodies are 0 (oldest,
// evicted first).
func recordTimestamp(value string) int64 {
	var probe struct {
		UpdatedAt *int64 `json:"updatedAt"`
		Timestamp *int64 `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(value), &probe); err != nil {
		return 0
	}
	if probe.UpdatedAt != nil {
		return *probe.UpdatedAt
	}
	if probe.Timestamp != nil {
		return *probe.Timestamp
	}
	return 0
}
