package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"mindful-backend/internal/config"
	"mindful-backend/internal/model"
	"mindful-backend/pkg/logger"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "mindful-backend/relay"

// 上游错误体最多读取的字节数
const maxErrorBody = 64 << 10

type CredentialResolver interface {
	Resolve(ctx context.Context, userID string) (string, error)
}

// UpstreamResponse 是已经建立的上游响应，调用方负责 Close
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	Stream     bool

	closeOnce sync.Once
	finish    func(error)
	cancel    context.CancelFunc
}

// Close 关闭上游连接并记录本次调用结果。
// err 为转发过程中的错误，正常结束传 nil。
func (r *UpstreamResponse) Close(err error) {
	r.closeOnce.Do(func() {
		r.Body.Close()
		if r.cancel != nil {
			r.cancel()
		}
		if r.finish != nil {
			r.finish(err)
		}
	})
}

type RelayService struct {
	client    *http.Client
	creds     CredentialResolver
	cfg       config.UpstreamConfig
	endpoint  string
	tracer    trace.Tracer
	requests  metric.Int64Counter
	latencyMs metric.Float64Histogram
}

func NewRelayService(client *http.Client, creds CredentialResolver, cfg config.UpstreamConfig) *RelayService {
	meter := otel.Meter(instrumentationName)

	requests, err := meter.Int64Counter(
		"relay.requests",
		metric.WithDescription("Chat relay requests by outcome"),
	)
	if err != nil {
		logger.Warnf("failed to create relay counter: %v", err)
	}
	latency, err := meter.Float64Histogram(
		"relay.upstream.latency_ms",
		metric.WithDescription("Time until upstream response headers in milliseconds"),
	)
	if err != nil {
		logger.Warnf("failed to create relay histogram: %v", err)
	}

	return &RelayService{
		client:    client,
		creds:     creds,
		cfg:       cfg,
		endpoint:  strings.TrimRight(cfg.BaseURL, "/") + cfg.MessagesPath,
		tracer:    otel.Tracer(instrumentationName),
		requests:  requests,
		latencyMs: latency,
	}
}

// Open 解析密钥并向上游发起请求。
// 返回 ErrCredentialNotFound 时没有任何上游调用；
// 上游非 2xx 时返回 *UpstreamError。
func (s *RelayService) Open(ctx context.Context, userID string, req *model.ChatRequest) (*UpstreamResponse, error) {
	apiKey, err := s.creds.Resolve(ctx, userID)
	if err != nil {
		s.count(ctx, req.Stream, "no_credential")
		return nil, err
	}

	payload, err := json.Marshal(model.UpstreamRequest{
		Model:    model.UpstreamModel,
		System:   req.SystemPrompt,
		Messages: req.Messages,
		Stream:   req.Stream,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	timeout := s.cfg.RequestTimeout
	if req.Stream {
		timeout = s.cfg.StreamTimeout
	}
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	ctx, span := s.tracer.Start(ctx, "relay.upstream", trace.WithAttributes(
		attribute.Bool("relay.stream", req.Stream),
		attribute.Int("relay.messages", len(req.Messages)),
	))

	fail := func(err error, outcome string) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		cancel()
		s.count(ctx, req.Stream, outcome)
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fail(fmt.Errorf("create upstream request: %w", err), "error")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if s.latencyMs != nil {
		s.latencyMs.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.Bool("stream", req.Stream)))
	}
	if err != nil {
		return nil, fail(fmt.Errorf("upstream request failed: %w", err), "transport_error")
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, fail(newUpstreamError(resp.StatusCode, body), "upstream_error")
	}

	return &UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		Stream:     req.Stream,
		cancel:     cancel,
		finish: func(err error) {
			outcome := "ok"
			if err != nil && !errors.Is(err, context.Canceled) {
				outcome = "interrupted"
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
			s.count(ctx, req.Stream, outcome)
		},
	}, nil
}

func (s *RelayService) count(ctx context.Context, stream bool, outcome string) {
	if s.requests == nil {
		return
	}
	s.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("stream", stream),
		attribute.String("outcome", outcome),
	))
}
