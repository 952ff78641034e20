package utils

import (
	"errors"
	"io"
	"net/http"
)

// StreamWriter 把上游字节原样转发给客户端，每次写入后立即 flush
type StreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func NewStreamWriter(w http.ResponseWriter) *StreamWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	f, _ := w.(http.Flusher)
	return &StreamWriter{w: w, flusher: f}
}

func (s *StreamWriter) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if err != nil {
		return n, err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return n, nil
}

// Pipe 逐块读取 src 并写出，不合并也不解析。
// src 正常结束返回 nil。
func (s *StreamWriter) Pipe(src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			written, err := s.Write(buf[:n])
			total += int64(written)
			if err != nil {
				return total, err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return total, nil
			}
			return total, readErr
		}
	}
}
