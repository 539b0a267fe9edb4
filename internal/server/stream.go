package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayusman/palmscroll/internal/capture"
)

// PreviewSource returns the latest overlay frame, or nil when there is none.
type PreviewSource func() *capture.Preview

// StreamHandler serves the capture overlay as MJPEG.
type StreamHandler struct {
	source   PreviewSource
	interval time.Duration
}

// NewStreamHandler creates a StreamHandler polling src at about 15 fps.
func NewStreamHandler(src PreviewSource) *StreamHandler {
	return &StreamHandler{source: src, interval: 66 * time.Millisecond}
}

// ServeHTTP streams MJPEG frames until the client goes away. Frames are only
// written when the overlay produced a new one.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		p := h.source()
		if p == nil || p.Seq == lastSeq {
			continue
		}
		lastSeq = p.Seq

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(p.JPEG))
		if _, err := w.Write(p.JPEG); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
