package webserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Craftycody123/vision-safe-nav/internal/annotate"
	"github.com/Craftycody123/vision-safe-nav/internal/logger"
)

func writeMJPEGPart(w http.ResponseWriter, jpegData []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(jpegData); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}

// streamMJPEG writes every newly published frame as a multipart part. The
// stream ends when the run stops or the client goes away. After KeepAlive
// without a new frame the last one (or a test pattern) is re-sent.
func (s *Server) streamMJPEG(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var (
		blank   []byte
		lastSeq uint64
		last    []byte
	)

	for {
		snap, changed := s.deps.Store.Watch()
		if !snap.Running {
			logger.Debug("MJPEG", "detection stopped, closing stream")
			return
		}

		if snap.Seq != lastSeq && len(snap.Frame) > 0 {
			lastSeq = snap.Seq
			last = snap.Frame
			if err := writeMJPEGPart(w, last); err != nil {
				logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
				return
			}
			flusher.Flush()
		}

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-time.After(s.cfg.KeepAlive):
			data := last
			if data == nil {
				if blank == nil {
					var err error
					if blank, err = annotate.Blank(s.cfg.BlankWidth, s.cfg.BlankHeight); err != nil {
						logger.Warn("MJPEG", "failed to render placeholder: %v", err)
						return
					}
				}
				data = blank
			}
			if err := writeMJPEGPart(w, data); err != nil {
				logger.Debug("MJPEG", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}

// streamStatus pushes a status event whenever the run state or warnings
// change, plus keepalive comments.
func (s *Server) streamStatus(w http.ResponseWriter, r *http.Request, useProtobuf bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}

	var prev *statusEvent
	for {
		snap, changed := s.deps.Store.Watch()
		ev, err := newStatusEvent(snap)
		if err != nil {
			logger.Warn("SSE", "failed to serialize status: %v", err)
			return
		}
		if prev == nil || !prev.sameAs(ev) {
			data := ev.JSONData
			if useProtobuf {
				data = ev.ProtobufData
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during status event write: %v", err)
				return
			}
			flusher.Flush()
			prev = ev
		}

		select {
		case <-r.Context().Done():
			return
		case <-changed:
		case <-time.After(s.cfg.EventKeepAlive):
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
