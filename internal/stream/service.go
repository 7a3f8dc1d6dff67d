package stream

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"audiocast/internal/hls"
	"audiocast/internal/storage"
)

// Service coordinates the generation pipeline: chunk completions come in
// from the TTS worker, segment audio is written to the object store, and the
// playlist is regenerated from the full set of ready chunks after every
// completion. The EVENT playlist is sealed to VOD when the last chunk lands.
type Service struct {
	repo    Repository
	objects storage.ObjectStore
	log     *slog.Logger
	baseURL string

	// One regenerate-and-write sequence per stream at a time, so a stale
	// read of the chunk set can never overwrite a newer manifest.
	locksMu sync.Mutex
	locks   map[StreamID]*sync.Mutex
}

// NewService returns a Service that persists state through repo and objects.
// baseURL is the public prefix segment URLs are built from.
func NewService(repo Repository, objects storage.ObjectStore, baseURL string, log *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		objects: objects,
		log:     log,
		baseURL: strings.TrimRight(baseURL, "/"),
		locks:   make(map[StreamID]*sync.Mutex),
	}
}

// StreamCreated is the result of CreateStream.
type StreamCreated struct {
	Stream       *StreamState
	ManifestKey  string
	PollInterval int
}

// PlaylistResult is the playlist document plus the client cadence hints the
// transport layer relays.
type PlaylistResult struct {
	Body         []byte
	PollInterval int
	Complete     bool
}

// CreateStream registers a new stream and writes its initial header-only
// EVENT playlist so clients have something to poll before the first chunk
// is ready.
func (s *Service) CreateStream(ctx context.Context, p CreateStreamParams) (*StreamCreated, error) {
	st, err := s.repo.CreateStream(p)
	if err != nil {
		return nil, err
	}

	key := hls.ManifestKey(string(st.ID))
	manifest := hls.GenerateManifest(nil, false, 0)
	if err := s.objects.Put(ctx, key, []byte(manifest), storage.PutOptions{
		ContentType:  storage.ContentTypePlaylist,
		CacheControl: storage.CacheControlNone,
	}); err != nil {
		return nil, err
	}
	if err := s.repo.SetManifestKey(st.ID, key); err != nil {
		return nil, err
	}
	st.ManifestKey = key

	s.log.Info("stream created",
		slog.String("stream_id", string(st.ID)),
		slog.Int("total_chunks", st.TotalChunks))

	return &StreamCreated{
		Stream:       st,
		ManifestKey:  key,
		PollInterval: hls.RecommendedPollInterval(hls.TargetDuration(nil, 0)),
	}, nil
}

// StartChunk marks a chunk as processing.
func (s *Service) StartChunk(ctx context.Context, id StreamID, index int) error {
	return s.repo.StartChunk(id, index)
}

// CompleteChunk records a finished chunk and regenerates the playlist. When
// audio is non-empty it is stored at the segment key; otherwise the worker
// is assumed to have uploaded the bytes itself, to segmentURL if given or to
// the conventional key.
func (s *Service) CompleteChunk(ctx context.Context, id StreamID, index int, durationSeconds float64, audio []byte, segmentURL string) error {
	unlock := s.lockStream(id)
	defer unlock()

	segKey := hls.SegmentKey(string(id), index)
	if len(audio) > 0 {
		if err := s.objects.Put(ctx, segKey, audio, storage.PutOptions{
			ContentType:  storage.ContentTypeAudio,
			CacheControl: storage.CacheControlImmutable,
		}); err != nil {
			return err
		}
	}
	if segmentURL == "" {
		segmentURL = s.baseURL + "/" + segKey
	}

	if err := s.repo.CompleteChunk(id, index, segmentURL, durationSeconds); err != nil {
		return err
	}

	st, ok, err := s.repo.StreamSnapshot(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStreamNotFound
	}

	complete := st.ChunksCompleted == st.TotalChunks
	if err := s.writeManifest(ctx, st, complete); err != nil {
		return err
	}

	s.log.Info("chunk complete",
		slog.String("stream_id", string(id)),
		slog.Int("chunk_index", index),
		slog.Float64("duration_seconds", durationSeconds),
		slog.Int("chunks_completed", st.ChunksCompleted),
		slog.Bool("complete", complete))

	if complete {
		_, total := readySegments(st)
		if err := s.repo.CompleteStream(id, st.ManifestKey, total); err != nil {
			return err
		}
		s.log.Info("stream complete",
			slog.String("stream_id", string(id)),
			slog.Float64("total_duration_seconds", total))
	}

	return nil
}

// FailChunk marks a chunk and its stream as failed. The last written
// playlist is left in place; it stays an EVENT playlist that never ends.
func (s *Service) FailChunk(ctx context.Context, id StreamID, index int, message string) error {
	if err := s.repo.FailChunk(id, index, message); err != nil {
		return err
	}
	s.log.Warn("chunk failed",
		slog.String("stream_id", string(id)),
		slog.Int("chunk_index", index),
		slog.String("error", message))
	return nil
}

// Stream returns a snapshot of the stream state.
func (s *Service) Stream(id StreamID) (*StreamState, bool, error) {
	return s.repo.StreamSnapshot(id)
}

// Playlist returns the current playlist document for a stream, rebuilding it
// from state if the stored copy is missing.
func (s *Service) Playlist(ctx context.Context, id StreamID) (*PlaylistResult, error) {
	st, ok, err := s.repo.StreamSnapshot(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrStreamNotFound
	}

	segments, _ := readySegments(st)
	complete := st.Status == StreamReady

	key := st.ManifestKey
	if key == "" {
		key = hls.ManifestKey(string(id))
	}

	body, err := s.objects.Get(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		body = []byte(hls.GenerateManifest(segments, complete, 0))
	} else if err != nil {
		return nil, err
	}

	return &PlaylistResult{
		Body:         body,
		PollInterval: hls.RecommendedPollInterval(hls.TargetDuration(segments, 0)),
		Complete:     complete,
	}, nil
}

// ActiveStreamCount reports streams still processing, for metrics gauges.
func (s *Service) ActiveStreamCount() (int, error) {
	return s.repo.ActiveStreamCount()
}

// writeManifest regenerates the playlist from all ready chunks and writes it
// to the stream's manifest key.
func (s *Service) writeManifest(ctx context.Context, st *StreamState, complete bool) error {
	segments, _ := readySegments(st)
	manifest := hls.GenerateManifest(segments, complete, 0)

	cacheControl := storage.CacheControlNone
	if complete {
		cacheControl = storage.CacheControlImmutable
	}

	key := st.ManifestKey
	if key == "" {
		key = hls.ManifestKey(string(st.ID))
	}

	return s.objects.Put(ctx, key, []byte(manifest), storage.PutOptions{
		ContentType:  storage.ContentTypePlaylist,
		CacheControl: cacheControl,
	})
}

// lockStream acquires the per-stream mutex and returns its unlock func.
func (s *Service) lockStream(id StreamID) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

// readySegments maps ready chunks to playlist segments and sums their
// durations.
func readySegments(st *StreamState) ([]hls.Segment, float64) {
	segments := make([]hls.Segment, 0, len(st.Chunks))
	total := 0.0
	for _, c := range st.Chunks {
		if c.Status != ChunkReady {
			continue
		}
		segments = append(segments, hls.Segment{
			Index:    c.Index,
			URL:      c.SegmentURL,
			Duration: c.DurationSeconds,
		})
		total += c.DurationSeconds
	}
	return segments, total
}
