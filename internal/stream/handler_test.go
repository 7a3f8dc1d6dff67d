package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"audiocast/internal/storage"

	"github.com/go-chi/chi/v5"
)

func newTestRouter(t *testing.T) *chi.Mux {
	t.Helper()
	objects := storage.NewMemoryStore()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	svc := NewService(NewRepository(), objects, "https://cdn.example.com", log)
	h := NewHandler(svc, log, nil)

	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func createStreamViaAPI(t *testing.T, r http.Handler, n int) createStreamResponse {
	t.Helper()
	chunks := make([]map[string]any, n)
	for i := range chunks {
		chunks[i] = map[string]any{"index": i, "word_count": 100}
	}
	rec := postJSON(t, r, "/streams", map[string]any{
		"title":  "article",
		"voice":  "nova",
		"chunks": chunks,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create stream: expected 201, got %d", rec.Code)
	}
	var resp createStreamResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return resp
}

func TestHandler_CreateStream(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 2)

	if resp.StreamID == "" {
		t.Error("expected stream id")
	}
	if !strings.HasSuffix(resp.ManifestKey, "/playlist.m3u8") {
		t.Errorf("unexpected manifest key: %s", resp.ManifestKey)
	}
	if resp.TotalChunks != 2 {
		t.Errorf("expected 2 chunks, got %d", resp.TotalChunks)
	}
	if resp.PollInterval != 15 {
		t.Errorf("expected poll interval 15, got %d", resp.PollInterval)
	}
}

func TestHandler_CreateStream_bad_request(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/streams", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad json, got %d", rec.Code)
	}

	rec = postJSON(t, r, "/streams", map[string]any{"title": "x", "chunks": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty chunks, got %d", rec.Code)
	}
}

func TestHandler_CompleteChunk_and_playlist(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 2)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/0/complete", resp.StreamID),
		map[string]any{"duration_seconds": 41.2})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete chunk: expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/streams/"+resp.StreamID+"/playlist.m3u8", nil)
	prec := httptest.NewRecorder()
	r.ServeHTTP(prec, req)

	if prec.Code != http.StatusOK {
		t.Fatalf("playlist: expected 200, got %d", prec.Code)
	}
	if got := prec.Header().Get("Content-Type"); got != "application/vnd.apple.mpegurl" {
		t.Errorf("unexpected content type: %s", got)
	}
	if got := prec.Header().Get("X-Poll-Interval"); got != "21" {
		t.Errorf("expected X-Poll-Interval 21 (half of ceil 41.2), got %s", got)
	}
	if got := prec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("EVENT playlist must not be cached, got %s", got)
	}
	body := prec.Body.String()
	if !strings.Contains(body, "#EXTM3U") || !strings.Contains(body, "#EXT-X-PLAYLIST-TYPE:EVENT") {
		t.Errorf("unexpected playlist body: %s", body)
	}
	if strings.Contains(body, "#EXT-X-ENDLIST") {
		t.Errorf("playlist should still be open: %s", body)
	}
}

func TestHandler_playlist_sealed(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 1)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/0/complete", resp.StreamID),
		map[string]any{"duration_seconds": 10.0})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete chunk: expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/streams/"+resp.StreamID+"/playlist.m3u8", nil)
	prec := httptest.NewRecorder()
	r.ServeHTTP(prec, req)

	body := prec.Body.String()
	if !strings.Contains(body, "#EXT-X-PLAYLIST-TYPE:VOD") || !strings.HasSuffix(body, "#EXT-X-ENDLIST") {
		t.Errorf("expected sealed VOD playlist: %s", body)
	}
	if got := prec.Header().Get("Cache-Control"); got != "public, max-age=31536000" {
		t.Errorf("sealed playlist should be cacheable, got %s", got)
	}
}

func TestHandler_CompleteChunk_conflict_after_seal(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 1)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/0/complete", resp.StreamID),
		map[string]any{"duration_seconds": 10.0})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete chunk: expected 200, got %d", rec.Code)
	}

	// The stream sealed on its only chunk; late reports now conflict.
	rec = postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/0/fail", resp.StreamID),
		map[string]any{"error_message": "late failure"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 failing a sealed stream, got %d", rec.Code)
	}
}

func TestHandler_chunk_not_found(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 1)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/9/complete", resp.StreamID),
		map[string]any{"duration_seconds": 1.0})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown chunk, got %d", rec.Code)
	}
}

func TestHandler_stream_not_found(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/streams/missing/playlist.m3u8", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing stream playlist, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/streams/missing", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing stream status, got %d", rec.Code)
	}
}

func TestHandler_bad_chunk_index(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 1)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/notanumber/complete", resp.StreamID),
		map[string]any{"duration_seconds": 1.0})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad index, got %d", rec.Code)
	}
}

func TestHandler_GetStream_status(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 2)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/0/complete", resp.StreamID),
		map[string]any{"duration_seconds": 30.0})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete chunk: expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/streams/"+resp.StreamID, nil)
	srec := httptest.NewRecorder()
	r.ServeHTTP(srec, req)
	if srec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", srec.Code)
	}

	var st streamResponse
	if err := json.Unmarshal(srec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if st.Status != StreamProcessing {
		t.Errorf("expected processing, got %s", st.Status)
	}
	if st.ChunksCompleted != 1 || st.TotalChunks != 2 {
		t.Errorf("unexpected progress: %d/%d", st.ChunksCompleted, st.TotalChunks)
	}
	if len(st.Chunks) != 2 {
		t.Errorf("expected 2 chunks in status, got %d", len(st.Chunks))
	}
}

func TestHandler_FailChunk(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 2)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/1/fail", resp.StreamID),
		map[string]any{"error_message": "tts timeout"})
	if rec.Code != http.StatusOK {
		t.Fatalf("fail chunk: expected 200, got %d", rec.Code)
	}

	rec = postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/0/complete", resp.StreamID),
		map[string]any{"duration_seconds": 5.0})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on failed stream, got %d", rec.Code)
	}
}

func TestHandler_inline_audio_upload(t *testing.T) {
	r := newTestRouter(t)
	resp := createStreamViaAPI(t, r, 1)

	rec := postJSON(t, r, fmt.Sprintf("/streams/%s/chunks/0/complete", resp.StreamID),
		map[string]any{"duration_seconds": 8.0, "audio_base64": "bXAzLWJ5dGVz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete with audio: expected 200, got %d", rec.Code)
	}

	rec = postJSON(t, r, "/streams/x/chunks/0/complete",
		map[string]any{"duration_seconds": 8.0, "audio_base64": "!!!not-base64!!!"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad base64, got %d", rec.Code)
	}
}
