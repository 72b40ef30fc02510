package outbound

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"ordercore/internal/pkg/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// 外部APIのレスポンス上限
const maxBody = 4 << 20

// StatusError は2xx以外の応答
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

// Client は決済ゲートウェイ・配送APIへの呼び出しを共通化する。
// タイムアウト、span、レイテンシのヒストグラムをここでまとめて付ける。
type Client struct {
	http    *http.Client
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(timeout time.Duration, m *metrics.Metrics) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		metrics: m,
		tracer:  otel.Tracer("ordercore.outbound"),
	}
}

// Do はリクエストを送りbodyを返す。2xx以外は *StatusError。
func (c *Client) Do(ctx context.Context, provider, operation string, req *http.Request) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, provider+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.Redacted()),
		),
	)
	defer span.End()

	started := time.Now()
	defer c.metrics.ObserveGateway(provider, operation, started)

	res, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		if IsTimeout(err) {
			span.SetStatus(codes.Error, "timeout")
		} else {
			span.SetStatus(codes.Error, "request failed")
		}
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		serr := &StatusError{Status: res.StatusCode, Body: truncate(string(body), 512)}
		span.SetStatus(codes.Error, serr.Error())
		return body, serr
	}
	return body, nil
}

func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
