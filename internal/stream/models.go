package stream

import "time"

// StreamID uniquely identifies an audio stream.
type StreamID string

// StreamStatus is the lifecycle state of a stream.
type StreamStatus string

const (
	// StreamProcessing means chunks are still being synthesized; the
	// playlist is an EVENT playlist and may grow.
	StreamProcessing StreamStatus = "processing"
	// StreamReady means all chunks are ready and the VOD manifest is final.
	StreamReady StreamStatus = "ready"
	// StreamFailed is terminal; at least one chunk failed.
	StreamFailed StreamStatus = "failed"
)

// ChunkStatus is the lifecycle state of a single chunk.
type ChunkStatus string

const (
	ChunkPending    ChunkStatus = "pending"
	ChunkProcessing ChunkStatus = "processing"
	ChunkReady      ChunkStatus = "ready"
	ChunkFailed     ChunkStatus = "failed"
)

// Chunk is one unit of TTS output: a planned slice of the source text that
// becomes exactly one playlist segment once synthesized.
type Chunk struct {
	Index           int         `json:"index"`
	WordCount       int         `json:"word_count"`
	DurationSeconds float64     `json:"duration_seconds,omitempty"`
	SegmentURL      string      `json:"segment_url,omitempty"`
	Status          ChunkStatus `json:"status"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// StreamState is the full representation of one stream and its chunks.
type StreamState struct {
	ID                   StreamID
	Title                string
	Voice                string
	TotalChunks          int
	ChunksCompleted      int
	Status               StreamStatus
	ManifestKey          string
	TotalDurationSeconds float64
	FailedChunk          int // -1 while no chunk has failed
	ErrorMessage         string
	Chunks               map[int]*Chunk
	CreatedAt            time.Time
	UpdatedAt            time.Time
	CompletedAt          time.Time // zero until the stream is ready
}

// Clone returns a deep copy, safe to hand out across the repository boundary.
func (s *StreamState) Clone() *StreamState {
	out := *s
	out.Chunks = make(map[int]*Chunk, len(s.Chunks))
	for idx, c := range s.Chunks {
		cc := *c
		out.Chunks[idx] = &cc
	}
	return &out
}
