package stream

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines the concurrency-safe contract for accessing and
// mutating stream state.
type Repository interface {
	// CreateStream creates a new stream with one pending chunk per spec.
	CreateStream(p CreateStreamParams) (*StreamState, error)

	// StartChunk marks a pending chunk as processing.
	StartChunk(id StreamID, index int) error

	// CompleteChunk marks a chunk ready with its segment URL and duration.
	// Completing an already-ready chunk is idempotent. Completing a chunk on
	// a ready or failed stream returns ErrStreamSealed.
	CompleteChunk(id StreamID, index int, segmentURL string, durationSeconds float64) error

	// FailChunk marks the chunk and the whole stream as failed.
	FailChunk(id StreamID, index int, message string) error

	// SetManifestKey records where the stream's playlist is stored.
	SetManifestKey(id StreamID, key string) error

	// CompleteStream marks the stream ready once its VOD manifest is written.
	CompleteStream(id StreamID, manifestKey string, totalDurationSeconds float64) error

	// StreamSnapshot returns a deep copy of the stream state, or ok=false.
	StreamSnapshot(id StreamID) (*StreamState, bool, error)

	// ActiveStreamCount returns the number of streams still processing.
	// Used for metrics.
	ActiveStreamCount() (int, error)
}

// CreateStreamParams describes a new stream and its planned chunks.
type CreateStreamParams struct {
	Title  string      `json:"title"`
	Voice  string      `json:"voice"`
	Chunks []ChunkSpec `json:"chunks"`
}

// ChunkSpec is the planned shape of one chunk before synthesis.
type ChunkSpec struct {
	Index     int `json:"index"`
	WordCount int `json:"word_count"`
}

var (
	// ErrStreamNotFound is returned for operations on an unknown stream.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrChunkNotFound is returned for operations on an unknown chunk index.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrStreamSealed is returned when mutating a stream that is already
	// ready or failed.
	ErrStreamSealed = errors.New("stream is sealed")

	// ErrNoChunks is returned when creating a stream with no chunks.
	ErrNoChunks = errors.New("stream has no chunks")

	// ErrDuplicateChunk is returned when a stream is created with two chunk
	// specs sharing an index.
	ErrDuplicateChunk = errors.New("duplicate chunk index")
)

// StoreRepository is a concurrency-safe Repository over a Store. Every
// mutation is written back through the Store so persistent backends stay
// current.
type StoreRepository struct {
	mu    sync.RWMutex
	store Store
}

// NewRepository constructs a repository backed by an in-memory store.
func NewRepository() *StoreRepository {
	return NewRepositoryWithStore(NewInMemoryStore())
}

// NewRepositoryWithStore constructs a repository that uses the given Store,
// e.g. a SQLiteStore for durability.
func NewRepositoryWithStore(store Store) *StoreRepository {
	return &StoreRepository{store: store}
}

// CreateStream implements Repository.CreateStream.
func (r *StoreRepository) CreateStream(p CreateStreamParams) (*StreamState, error) {
	if len(p.Chunks) == 0 {
		return nil, ErrNoChunks
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	st := &StreamState{
		ID:          StreamID(uuid.NewString()),
		Title:       p.Title,
		Voice:       p.Voice,
		TotalChunks: len(p.Chunks),
		Status:      StreamProcessing,
		FailedChunk: -1,
		Chunks:      make(map[int]*Chunk, len(p.Chunks)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, spec := range p.Chunks {
		if _, exists := st.Chunks[spec.Index]; exists {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateChunk, spec.Index)
		}
		st.Chunks[spec.Index] = &Chunk{
			Index:     spec.Index,
			WordCount: spec.WordCount,
			Status:    ChunkPending,
		}
	}

	if err := r.store.SetStream(st); err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// StartChunk implements Repository.StartChunk.
func (r *StoreRepository) StartChunk(id StreamID, index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, chunk, err := r.getChunkLocked(id, index)
	if err != nil {
		return err
	}
	if st.Status != StreamProcessing {
		return ErrStreamSealed
	}
	if chunk.Status != ChunkPending {
		return nil
	}

	chunk.Status = ChunkProcessing
	st.UpdatedAt = time.Now().UTC()
	return r.store.SetStream(st)
}

// CompleteChunk implements Repository.CompleteChunk.
func (r *StoreRepository) CompleteChunk(id StreamID, index int, segmentURL string, durationSeconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, chunk, err := r.getChunkLocked(id, index)
	if err != nil {
		return err
	}
	if st.Status != StreamProcessing {
		return ErrStreamSealed
	}
	// Duplicate completion is idempotent; the first write wins.
	if chunk.Status == ChunkReady {
		return nil
	}

	chunk.Status = ChunkReady
	chunk.SegmentURL = segmentURL
	chunk.DurationSeconds = durationSeconds
	st.ChunksCompleted++
	st.UpdatedAt = time.Now().UTC()
	return r.store.SetStream(st)
}

// FailChunk implements Repository.FailChunk.
func (r *StoreRepository) FailChunk(id StreamID, index int, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, chunk, err := r.getChunkLocked(id, index)
	if err != nil {
		return err
	}
	if st.Status == StreamFailed {
		return nil
	}
	if st.Status == StreamReady {
		return ErrStreamSealed
	}

	now := time.Now().UTC()
	chunk.Status = ChunkFailed
	chunk.ErrorMessage = message
	st.Status = StreamFailed
	st.FailedChunk = index
	st.ErrorMessage = message
	st.UpdatedAt = now
	return r.store.SetStream(st)
}

// SetManifestKey implements Repository.SetManifestKey.
func (r *StoreRepository) SetManifestKey(id StreamID, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.getStreamLocked(id)
	if err != nil {
		return err
	}

	st.ManifestKey = key
	st.UpdatedAt = time.Now().UTC()
	return r.store.SetStream(st)
}

// CompleteStream implements Repository.CompleteStream.
func (r *StoreRepository) CompleteStream(id StreamID, manifestKey string, totalDurationSeconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := r.getStreamLocked(id)
	if err != nil {
		return err
	}
	if st.Status == StreamReady {
		return nil
	}
	if st.Status == StreamFailed {
		return ErrStreamSealed
	}

	now := time.Now().UTC()
	st.Status = StreamReady
	st.ManifestKey = manifestKey
	st.TotalDurationSeconds = totalDurationSeconds
	st.UpdatedAt = now
	st.CompletedAt = now
	return r.store.SetStream(st)
}

// StreamSnapshot implements Repository.StreamSnapshot.
func (r *StoreRepository) StreamSnapshot(id StreamID) (*StreamState, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok, err := r.store.GetStream(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return st.Clone(), true, nil
}

// ActiveStreamCount implements Repository.ActiveStreamCount.
func (r *StoreRepository) ActiveStreamCount() (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, err := r.store.ListStreamIDs()
	if err != nil {
		return 0, err
	}

	n := 0
	for _, id := range ids {
		if st, ok, err := r.store.GetStream(id); err == nil && ok && st.Status == StreamProcessing {
			n++
		}
	}
	return n, nil
}

// getStreamLocked fetches a stream or returns ErrStreamNotFound.
// Caller must hold r.mu.
func (r *StoreRepository) getStreamLocked(id StreamID) (*StreamState, error) {
	st, ok, err := r.store.GetStream(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStreamNotFound
	}
	return st, nil
}

// getChunkLocked fetches a stream and one of its chunks.
// Caller must hold r.mu in write mode.
func (r *StoreRepository) getChunkLocked(id StreamID, index int) (*StreamState, *Chunk, error) {
	st, err := r.getStreamLocked(id)
	if err != nil {
		return nil, nil, err
	}
	chunk, ok := st.Chunks[index]
	if !ok {
		return nil, nil, ErrChunkNotFound
	}
	return st, chunk, nil
}
