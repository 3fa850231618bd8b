package sse

import (
	"fmt"
	"net/http"
)

// FlushWriter wraps http.ResponseWriter and flushes every write so frames
// reach the client immediately.
type FlushWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

// NewFlushWriter constructs a FlushWriter backed by the given ResponseWriter.
func NewFlushWriter(rw http.ResponseWriter) *FlushWriter {
	flusher, _ := rw.(http.Flusher)
	return &FlushWriter{writer: rw, flusher: flusher}
}

// Write implements io.Writer.
func (w *FlushWriter) Write(p []byte) (int, error) {
	if w.flusher == nil {
		return 0, fmt.Errorf("streaming not supported: %T does not support flushing", w.writer)
	}
	n, err := w.writer.Write(p)
	if err == nil {
		w.flusher.Flush()
	}
	return n, err
}

// WriteEvent encodes and writes a single frame.
func (w *FlushWriter) WriteEvent(event *Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// WriteKeepAlive writes a keep-alive comment frame.
func (w *FlushWriter) WriteKeepAlive() error {
	_, err := w.Write(KeepAlive())
	return err
}
