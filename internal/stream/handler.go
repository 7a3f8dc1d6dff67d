package stream

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"audiocast/internal/platform/metrics"
	"audiocast/internal/storage"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the stream API over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and
// optional Metrics. Metrics may be nil to disable metric recording.
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes registers all stream endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/streams", h.CreateStream)
	r.Route("/streams/{stream_id}", func(r chi.Router) {
		r.Get("/", h.GetStream)
		r.Get("/playlist.m3u8", h.GetPlaylist)
		r.Route("/chunks/{index}", func(r chi.Router) {
			r.Post("/start", h.StartChunk)
			r.Post("/complete", h.CompleteChunk)
			r.Post("/fail", h.FailChunk)
		})
	})
}

type createStreamResponse struct {
	StreamID     string `json:"stream_id"`
	ManifestKey  string `json:"manifest_key"`
	TotalChunks  int    `json:"total_chunks"`
	PollInterval int    `json:"poll_interval"`
}

type completeChunkRequest struct {
	DurationSeconds float64 `json:"duration_seconds"`
	AudioBase64     string  `json:"audio_base64,omitempty"`
	SegmentURL      string  `json:"segment_url,omitempty"`
}

type failChunkRequest struct {
	ErrorMessage string `json:"error_message"`
}

type streamResponse struct {
	StreamID             string       `json:"stream_id"`
	Title                string       `json:"title"`
	Voice                string       `json:"voice"`
	Status               StreamStatus `json:"status"`
	TotalChunks          int          `json:"total_chunks"`
	ChunksCompleted      int          `json:"chunks_completed"`
	ManifestKey          string       `json:"manifest_key"`
	TotalDurationSeconds float64      `json:"total_duration_seconds"`
	FailedChunk          *int         `json:"failed_chunk,omitempty"`
	ErrorMessage         string       `json:"error_message,omitempty"`
	Chunks               []*Chunk     `json:"chunks"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
	CompletedAt          *time.Time   `json:"completed_at,omitempty"`
}

// CreateStream handles POST /streams.
// Body: { "title": "...", "voice": "...", "chunks": [{"index":0,"word_count":150}, ...] }.
func (h *Handler) CreateStream(w http.ResponseWriter, r *http.Request) {
	var p CreateStreamParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.log.Debug("invalid create stream body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	created, err := h.svc.CreateStream(r.Context(), p)
	if err != nil {
		h.writeError(w, "create stream failed", err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncStreamsCreated()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(createStreamResponse{
		StreamID:     string(created.Stream.ID),
		ManifestKey:  created.ManifestKey,
		TotalChunks:  created.Stream.TotalChunks,
		PollInterval: created.PollInterval,
	})
}

// StartChunk handles POST /streams/{stream_id}/chunks/{index}/start.
func (h *Handler) StartChunk(w http.ResponseWriter, r *http.Request) {
	id, index, ok := h.chunkParams(w, r)
	if !ok {
		return
	}

	if err := h.svc.StartChunk(r.Context(), id, index); err != nil {
		h.writeError(w, "start chunk failed", err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// CompleteChunk handles POST /streams/{stream_id}/chunks/{index}/complete.
// Body: { "duration_seconds": 41.2, "audio_base64": "...", "segment_url": "..." }.
// Either the worker ships audio bytes inline or it has uploaded them itself
// and reports the URL.
func (h *Handler) CompleteChunk(w http.ResponseWriter, r *http.Request) {
	id, index, ok := h.chunkParams(w, r)
	if !ok {
		return
	}

	var req completeChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid complete chunk body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var audio []byte
	if req.AudioBase64 != "" {
		var err error
		audio, err = base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			h.log.Debug("invalid audio encoding", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	err := h.svc.CompleteChunk(r.Context(), id, index, req.DurationSeconds, audio, req.SegmentURL)
	if err != nil {
		h.writeError(w, "complete chunk failed", err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncChunksCompleted()
		if st, ok, _ := h.svc.Stream(id); ok && st.Status == StreamReady {
			h.metrics.IncStreamsReady()
		}
	}
	w.WriteHeader(http.StatusOK)
}

// FailChunk handles POST /streams/{stream_id}/chunks/{index}/fail.
func (h *Handler) FailChunk(w http.ResponseWriter, r *http.Request) {
	id, index, ok := h.chunkParams(w, r)
	if !ok {
		return
	}

	var req failChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.svc.FailChunk(r.Context(), id, index, req.ErrorMessage); err != nil {
		h.writeError(w, "fail chunk failed", err)
		return
	}

	if h.metrics != nil {
		h.metrics.IncChunksFailed()
	}
	w.WriteHeader(http.StatusOK)
}

// GetStream handles GET /streams/{stream_id}.
func (h *Handler) GetStream(w http.ResponseWriter, r *http.Request) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	st, ok, err := h.svc.Stream(id)
	if err != nil {
		h.writeError(w, "get stream failed", err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resp := streamResponse{
		StreamID:             string(st.ID),
		Title:                st.Title,
		Voice:                st.Voice,
		Status:               st.Status,
		TotalChunks:          st.TotalChunks,
		ChunksCompleted:      st.ChunksCompleted,
		ManifestKey:          st.ManifestKey,
		TotalDurationSeconds: st.TotalDurationSeconds,
		ErrorMessage:         st.ErrorMessage,
		CreatedAt:            st.CreatedAt,
		UpdatedAt:            st.UpdatedAt,
	}
	if st.FailedChunk >= 0 {
		failed := st.FailedChunk
		resp.FailedChunk = &failed
	}
	if !st.CompletedAt.IsZero() {
		completed := st.CompletedAt
		resp.CompletedAt = &completed
	}
	resp.Chunks = make([]*Chunk, 0, len(st.Chunks))
	for _, c := range st.Chunks {
		resp.Chunks = append(resp.Chunks, c)
	}
	sort.Slice(resp.Chunks, func(i, j int) bool {
		return resp.Chunks[i].Index < resp.Chunks[j].Index
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// GetPlaylist handles GET /streams/{stream_id}/playlist.m3u8. The response
// carries the recommended client poll cadence in X-Poll-Interval; an EVENT
// playlist must not be cached, a sealed one is immutable.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	res, err := h.svc.Playlist(r.Context(), id)
	if err != nil {
		h.writeError(w, "get playlist failed", err)
		return
	}

	w.Header().Set("Content-Type", storage.ContentTypePlaylist)
	w.Header().Set("X-Poll-Interval", strconv.Itoa(res.PollInterval))
	if res.Complete {
		w.Header().Set("Cache-Control", storage.CacheControlImmutable)
	} else {
		w.Header().Set("Cache-Control", storage.CacheControlNone)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(res.Body)
}

// chunkParams extracts and validates the stream id and chunk index path
// params, writing a 400 on failure.
func (h *Handler) chunkParams(w http.ResponseWriter, r *http.Request) (StreamID, int, bool) {
	id := StreamID(chi.URLParam(r, "stream_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return "", 0, false
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return "", 0, false
	}
	return id, index, true
}

// writeError maps service errors to HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, ErrStreamNotFound), errors.Is(err, ErrChunkNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, ErrStreamSealed):
		h.log.Info(msg, slog.String("error", err.Error()))
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, ErrNoChunks), errors.Is(err, ErrDuplicateChunk):
		w.WriteHeader(http.StatusBadRequest)
	default:
		h.log.Error(msg, slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}
