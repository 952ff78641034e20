package chatclient

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// StreamError 是流中 error 事件携带的错误
type StreamError struct {
	Type    string
	Message string
}

func (e *StreamError) Error() string {
	if e.Type == "" {
		return "stream error: " + e.Message
	}
	return "stream error (" + e.Type + "): " + e.Message
}

// streamSSE 按行解析 SSE，每个事件回调一次
func streamSSE(r io.Reader, onEvent func(event string, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		ev := eventName
		eventName = ""
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if ferr := flush(); ferr != nil {
				return ferr
			}
		case strings.HasPrefix(line, ":"):
			// 注释
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			// 只去掉冒号后的一个空格，文本里的前导空格要保留
			data := strings.TrimPrefix(line, "data:")
			data = strings.TrimPrefix(data, " ")
			dataLines = append(dataLines, data)
		}

		if eof {
			return flush()
		}
	}
}

type streamEnvelope struct {
	Type  string `json:"type"`
	Delta *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Choices json.RawMessage `json:"choices"`
	Error   json.RawMessage `json:"error"`
}

// errStreamDone 用于提前结束解析
var errStreamDone = errors.New("stream done")

// decodeStream 从 SSE 流中取出增量文本。
// 支持 Anthropic 的 content_block_delta 和 OpenAI 风格的 choices[].delta.content，
// 非 JSON 的 data 行直接当作文本。已开始但没有 message_stop 就断开时返回 io.ErrUnexpectedEOF。
func decodeStream(r io.Reader, onText func(string) error) error {
	var started, done bool

	err := streamSSE(r, func(event, data string) error {
		if strings.TrimSpace(data) == "[DONE]" {
			done = true
			return errStreamDone
		}

		// 只有 JSON 对象才按事件解析，其余（包括 null、数字等字面量）都是文本
		if !strings.HasPrefix(strings.TrimSpace(data), "{") {
			return onText(data)
		}
		var env streamEnvelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			return onText(data)
		}

		typ := env.Type
		if typ == "" {
			typ = event
		}

		switch typ {
		case "message_start":
			started = true
			return nil
		case "message_stop":
			done = true
			return errStreamDone
		case "error":
			return decodeStreamError(data)
		case "content_block_delta":
			if env.Delta != nil && env.Delta.Text != "" {
				return onText(env.Delta.Text)
			}
			return nil
		}

		if len(env.Choices) > 0 {
			var chunk openai.ChatCompletionStreamResponse
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				return err
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if err := onText(choice.Delta.Content); err != nil {
						return err
					}
				}
			}
			return nil
		}

		if len(env.Error) > 0 && string(env.Error) != "null" {
			return decodeStreamError(data)
		}
		return nil
	})

	if errors.Is(err, errStreamDone) {
		return nil
	}
	if err != nil {
		return err
	}
	if started && !done {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func decodeStreamError(data string) error {
	var resp openai.ErrorResponse
	if err := json.Unmarshal([]byte(data), &resp); err == nil && resp.Error != nil {
		return &StreamError{Type: resp.Error.Type, Message: resp.Error.Message}
	}
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &flat); err == nil && flat.Error != "" {
		return &StreamError{Message: flat.Error}
	}
	return &StreamError{Message: "upstream stream failed"}
}
