package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"audiocache/internal/files"
	"audiocache/internal/logging"
)

// handleAudio serves a stored artifact. The file parameter is either the
// bare key or the key with the store's extension.
func (h *Handler) handleAudio(w http.ResponseWriter, r *http.Request) {
	key, ok := h.keyFromFileName(r.PathValue("file"))
	if !ok {
		writeError(w, http.StatusNotFound, "audio not found")
		return
	}

	// The open descriptor keeps serving even if the sweeper removes the
	// file while the response is being written.
	f, a, err := h.store.Open(r.Context(), key)
	if errors.Is(err, files.ErrNotFound) || errors.Is(err, files.ErrInvalidKey) {
		writeError(w, http.StatusNotFound, "audio not found")
		return
	}
	if err != nil {
		logging.Internal.Printf("failed to open audio %s: %v", key, err)
		writeError(w, http.StatusInternalServerError, "failed to read audio")
		return
	}
	defer f.Close()

	hdr := w.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Accept-Ranges", "bytes")

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		if _, _, err := parseRange(rangeHeader, a.Size); err != nil {
			hdr.Set("Content-Range", fmt.Sprintf("bytes */%d", a.Size))
			writeError(w, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable")
			return
		}
	}

	// ServeContent handles the validated range, Content-Length, and HEAD.
	hdr.Set("Content-Type", h.store.ContentType())
	http.ServeContent(w, r, "", a.ModTime, f)
}

func (h *Handler) keyFromFileName(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if base, ext, found := strings.Cut(name, "."); found {
		if ext != h.store.Format() {
			return "", false
		}
		name = base
	}
	return name, name != ""
}
