package utils

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
)

type chunkReader struct {
	chunks []string
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

type flushCounter struct {
	*httptest.ResponseRecorder
	flushes int
}

func (f *flushCounter) Flush() {
	f.flushes++
	f.ResponseRecorder.Flush()
}

func TestStreamWriter_PipeForwardsEachChunk(t *testing.T) {
	rec := &flushCounter{ResponseRecorder: httptest.NewRecorder()}
	sw := NewStreamWriter(rec)

	src := &chunkReader{chunks: []string{"event: a\n", "data: {\"x\":1}\n\n", "data: [DONE]\n\n"}}
	n, err := sw.Pipe(src)
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}

	want := "event: a\ndata: {\"x\":1}\n\ndata: [DONE]\n\n"
	if rec.Body.String() != want || n != int64(len(want)) {
		t.Fatalf("body=%q n=%d", rec.Body.String(), n)
	}
	if rec.flushes != 3 {
		t.Fatalf("flushes=%d, want 3", rec.flushes)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type=%q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-cache" {
		t.Fatalf("Cache-Control=%q", cc)
	}
}

func TestStreamWriter_PipeReturnsReadError(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewStreamWriter(rec)

	boom := errors.New("reset by peer")
	_, err := sw.Pipe(&chunkReader{chunks: []string{"partial"}, err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	if rec.Body.String() != "partial" {
		t.Fatalf("partial bytes not forwarded: %q", rec.Body.String())
	}
}
