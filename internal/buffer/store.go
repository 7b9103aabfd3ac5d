package buffer

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/rysweet/gadugi-agentic-test-sub003/internal/event"
)

// TopicRotated is emitted after a rotation that removed at least one entry.
const TopicRotated = "buffer.rotated"

// Defaults for Config.
const (
	DefaultMaxBufferSize        = 10 << 20 // 10 MiB per payload
	DefaultMaxTotalBuffers      = 100
	DefaultCompressionThreshold = 4 << 10 // 4 KiB
	DefaultRotationInterval     = 5 * time.Minute

	// aggressiveKeep is how many entries AggressiveClear retains.
	aggressiveKeep = 5
)

var (
	// ErrBufferNotFound is returned by Get for unknown or evicted ids.
	ErrBufferNotFound = errors.New("buffer not found")

	// ErrBufferTooLarge is returned by Create when the payload exceeds
	// MaxBufferSize.
	ErrBufferTooLarge = errors.New("buffer exceeds maximum size")
)

// Config sets the store's budget and compression policy.
type Config struct {
	// MaxBufferSize bounds a single payload in bytes.
	MaxBufferSize int

	// MaxTotalBuffers bounds the number of resident entries.
	MaxTotalBuffers int

	// CompressionThreshold is the payload size at which compression is
	// applied even when not requested.
	CompressionThreshold int

	// RotationInterval is the age past which Rotate evicts an entry.
	RotationInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = DefaultMaxBufferSize
	}
	if c.MaxTotalBuffers <= 0 {
		c.MaxTotalBuffers = DefaultMaxTotalBuffers
	}
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = DefaultCompressionThreshold
	}
	if c.RotationInterval <= 0 {
		c.RotationInterval = DefaultRotationInterval
	}
	return c
}

type entry struct {
	id           string
	data         []byte
	compressed   bool
	rawSize      int
	createdAt    time.Time
	lastAccessed time.Time
	accessCount  uint64
}

// Stats is a snapshot of store occupancy.
type Stats struct {
	Count       int
	Compressed  int
	RawBytes    int
	StoredBytes int
}

// Store is a bounded in-memory buffer store. Safe for concurrent use.
type Store struct {
	cfg     Config
	emitter *event.Emitter

	mu      sync.Mutex
	entries map[string]*entry
}

// NewStore creates an empty store. The emitter must not be nil.
func NewStore(cfg Config, emitter *event.Emitter) *Store {
	return &Store{
		cfg:     cfg.withDefaults(),
		emitter: emitter,
		entries: make(map[string]*entry),
	}
}

// Create stores a payload and returns its id. Compression is applied when
// requested or when the payload reaches the configured threshold. At
// capacity an eviction pass runs before insertion, so the store never holds
// more than MaxTotalBuffers entries.
func (s *Store) Create(data []byte, compress bool) (string, error) {
	if len(data) > s.cfg.MaxBufferSize {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrBufferTooLarge, len(data), s.cfg.MaxBufferSize)
	}

	stored := data
	compressed := false
	if compress || len(data) >= s.cfg.CompressionThreshold {
		packed, err := gzipCompress(data)
		if err != nil {
			return "", fmt.Errorf("compress buffer: %w", err)
		}
		stored = packed
		compressed = true
	}

	now := time.Now()
	e := &entry{
		id:           uuid.New().String(),
		data:         stored,
		compressed:   compressed,
		rawSize:      len(data),
		createdAt:    now,
		lastAccessed: now,
	}

	s.mu.Lock()
	if len(s.entries) >= s.cfg.MaxTotalBuffers {
		s.evictLocked(now)
	}
	s.entries[e.id] = e
	s.mu.Unlock()

	return e.id, nil
}

// Get returns the payload, decompressing transparently, and updates the
// entry's access metadata.
func (s *Store) Get(id string) ([]byte, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrBufferNotFound, id)
	}
	e.lastAccessed = time.Now()
	e.accessCount++
	data := e.data
	compressed := e.compressed
	s.mu.Unlock()

	if !compressed {
		// Hand out a copy; callers mutating the result must not corrupt
		// the stored payload.
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	}
	raw, err := gzipDecompress(data)
	if err != nil {
		return nil, fmt.Errorf("decompress buffer %s: %w", id, err)
	}
	return raw, nil
}

// Destroy removes an entry, reporting whether it existed.
func (s *Store) Destroy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return false
	}
	delete(s.entries, id)
	return true
}

// Len returns the resident entry count.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Rotate evicts entries older than RotationInterval, or every entry when
// forced. It returns the number removed and emits buffer.rotated only when
// that number is nonzero.
func (s *Store) Rotate(force bool) int {
	now := time.Now()

	s.mu.Lock()
	removed := 0
	for id, e := range s.entries {
		if force || now.Sub(e.createdAt) > s.cfg.RotationInterval {
			delete(s.entries, id)
			removed++
		}
	}
	s.mu.Unlock()

	if removed > 0 {
		s.emitter.Emit(TopicRotated, event.Payload{"count": removed})
	}
	return removed
}

// AggressiveClear keeps only the most recently accessed handful of entries.
// Reserved for memory-pressure callbacks, not routine rotation.
func (s *Store) AggressiveClear() int {
	s.mu.Lock()
	removed := s.keepMostRecentLocked(aggressiveKeep)
	s.mu.Unlock()

	if removed > 0 {
		s.emitter.Emit(TopicRotated, event.Payload{"count": removed, "aggressive": true})
	}
	return removed
}

// Stats returns a snapshot of occupancy and byte usage.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Count: len(s.entries)}
	for _, e := range s.entries {
		st.RawBytes += e.rawSize
		st.StoredBytes += len(e.data)
		if e.compressed {
			st.Compressed++
		}
	}
	return st
}

// evictLocked frees room for one insertion: expired entries go first, and
// if the store is still full the least recently accessed half goes next.
func (s *Store) evictLocked(now time.Time) {
	for id, e := range s.entries {
		if now.Sub(e.createdAt) > s.cfg.RotationInterval {
			delete(s.entries, id)
		}
	}
	if len(s.entries) >= s.cfg.MaxTotalBuffers {
		s.keepMostRecentLocked(s.cfg.MaxTotalBuffers / 2)
	}
}

// keepMostRecentLocked drops all but the n most recently accessed entries,
// returning how many were removed.
func (s *Store) keepMostRecentLocked(n int) int {
	if len(s.entries) <= n {
		return 0
	}

	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].lastAccessed.After(all[j].lastAccessed)
	})

	removed := 0
	for _, e := range all[n:] {
		delete(s.entries, e.id)
		removed++
	}
	return removed
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
