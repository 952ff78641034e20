package chatclient

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func collect(t *testing.T, stream string) ([]string, error) {
	t.Helper()
	var chunks []string
	err := decodeStream(strings.NewReader(stream), func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	return chunks, err
}

func TestDecodeStream_Anthropic(t *testing.T) {
	stream := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"id\":\"m1\"}}\n\n" +
		"event: content_block_start\ndata: {\"type\":\"content_block_start\",\"index\":0}\n\n" +
		"event: ping\ndata: {\"type\":\"ping\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\" there\"}}\n\n" +
		"event: content_block_stop\ndata: {\"type\":\"content_block_stop\",\"index\":0}\n\n" +
		"event: message_delta\ndata: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	chunks, err := collect(t, stream)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(chunks, "") != "Hello there" || len(chunks) != 2 {
		t.Fatalf("chunks=%q", chunks)
	}
}

func TestDecodeStream_OpenAIStyle(t *testing.T) {
	stream := "data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"Hi\"}}]}\n\n" +
		"data: {\"id\":\"c1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"!\"}}]}\n\n" +
		"data: [DONE]\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"ignored\"}}]}\n\n"

	chunks, err := collect(t, stream)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Join(chunks, "") != "Hi!" {
		t.Fatalf("chunks=%q", chunks)
	}
}

func TestDecodeStream_ErrorEvent(t *testing.T) {
	stream := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n"

	_, err := collect(t, stream)
	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected *StreamError, got %v", err)
	}
	if streamErr.Message != "Overloaded" || streamErr.Type != "overloaded_error" {
		t.Fatalf("stream error=%+v", streamErr)
	}
}

func TestDecodeStream_TruncatedAfterStart(t *testing.T) {
	stream := "event: message_start\ndata: {\"type\":\"message_start\"}\n\n" +
		"event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n"

	chunks, err := collect(t, stream)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("chunks=%q", chunks)
	}
}

func TestDecodeStream_PlainTextData(t *testing.T) {
	stream := "data: Hello\n\ndata:  world\n\n: keep-alive comment\n\ndata: line one\ndata: line two"

	chunks, err := collect(t, stream)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"Hello", " world", "line one\nline two"}
	if len(chunks) != len(want) {
		t.Fatalf("chunks=%q", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d]=%q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestDecodeStream_JSONLiteralsAreText(t *testing.T) {
	stream := "data: null\n\ndata: 42\n\ndata: true\n\ndata: \"quoted\"\n\ndata: [1,2]\n\n"

	chunks, err := collect(t, stream)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{"null", "42", "true", `"quoted"`, "[1,2]"}
	if len(chunks) != len(want) {
		t.Fatalf("chunks=%q", chunks)
	}
	for i := range want {
		if chunks[i] != want[i] {
			t.Errorf("chunk[%d]=%q, want %q", i, chunks[i], want[i])
		}
	}
}

func TestDecodeStream_CallbackErrorStops(t *testing.T) {
	boom := errors.New("stop")
	err := decodeStream(strings.NewReader("data: a\n\ndata: b\n\n"), func(string) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
}
