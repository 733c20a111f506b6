// Package httpclient is the concrete C5 adapter: net/http wrapped with a
// per-origin sony/gobreaker circuit breaker and the resilience package's
// bounded retry, classifying every transport failure and HTTP status code
// into model.ErrorKind so the link-state machine never needs to know about
// *http.Response or net.Error.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sguzman/pulsewire-sub000/internal/domain/model"
	"github.com/sguzman/pulsewire-sub000/internal/resilience/circuitbreaker"
	"github.com/sguzman/pulsewire-sub000/internal/resilience/retry"
)

// Client is the concrete porthttp.Client implementation.
type Client struct {
	httpClient *http.Client
	userAgent  string

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.CircuitBreaker

	retryConfig retry.Config
}

// New builds a Client with the teacher's connection-pool shape: 30s request
// timeout, 90s idle timeout, TLS 1.2 minimum.
func New(userAgent string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		userAgent:   userAgent,
		breakers:    make(map[string]*circuitbreaker.CircuitBreaker),
		retryConfig: retry.SchedulerProbeConfig(),
	}
}

func (c *Client) breakerFor(rawURL string) *circuitbreaker.CircuitBreaker {
	origin := originOf(rawURL)

	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[origin]; ok {
		return cb
	}
	cb := circuitbreaker.New(circuitbreaker.SchedulerOriginConfig(origin))
	c.breakers[origin] = cb
	return cb
}

func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}

// Head issues a HEAD request. The returned error is non-nil only when the
// breaker rejected the call outright; every observed transport/status
// outcome is folded into the result instead.
func (c *Client) Head(ctx context.Context, rawURL string, cookieHeader string, extraHeaders map[string]string) (model.HeadResult, error) {
	cb := c.breakerFor(rawURL)

	var result model.HeadResult
	retryErr := retry.WithBackoff(ctx, c.retryConfig, func() error {
		out, err := cb.Execute(func() (interface{}, error) {
			return c.doHead(ctx, rawURL, cookieHeader, extraHeaders)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("scheduler http: breaker open, request rejected",
					slog.String("url", rawURL), slog.String("method", "HEAD"))
				return err
			}
			return err
		}
		result = out.(model.HeadResult)
		if result.Error != model.ErrorKindNone {
			return &retry.HTTPError{StatusCode: statusOrZero(result.Status), Message: result.Error.String()}
		}
		return nil
	})
	if retryErr != nil && result.Error == model.ErrorKindNone {
		if errors.Is(retryErr, gobreaker.ErrOpenState) || errors.Is(retryErr, gobreaker.ErrTooManyRequests) {
			return result, retryErr
		}
		result.Error = model.ErrorKindUnexpected
	}
	return result, nil
}

// Get issues a GET request, otherwise identical to Head.
func (c *Client) Get(ctx context.Context, rawURL string, cookieHeader string, extraHeaders map[string]string) (model.GetResult, error) {
	cb := c.breakerFor(rawURL)

	var result model.GetResult
	retryErr := retry.WithBackoff(ctx, c.retryConfig, func() error {
		out, err := cb.Execute(func() (interface{}, error) {
			return c.doGet(ctx, rawURL, cookieHeader, extraHeaders)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) {
				slog.Warn("scheduler http: breaker open, request rejected",
					slog.String("url", rawURL), slog.String("method", "GET"))
				return err
			}
			return err
		}
		result = out.(model.GetResult)
		if result.Error != model.ErrorKindNone {
			return &retry.HTTPError{StatusCode: statusOrZero(result.Status), Message: result.Error.String()}
		}
		return nil
	})
	if retryErr != nil && result.Error == model.ErrorKindNone {
		if errors.Is(retryErr, gobreaker.ErrOpenState) || errors.Is(retryErr, gobreaker.ErrTooManyRequests) {
			return result, retryErr
		}
		result.Error = model.ErrorKindUnexpected
	}
	return result, nil
}

func statusOrZero(status *int) int {
	if status == nil {
		return 0
	}
	return *status
}

func (c *Client) doHead(ctx context.Context, rawURL, cookieHeader string, extraHeaders map[string]string) (model.HeadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return model.HeadResult{Error: model.ErrorKindUnexpected}, nil
	}
	c.applyHeaders(req, cookieHeader, extraHeaders)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return model.HeadResult{Error: classifyTransportError(err), LatencyMs: latency}, nil
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	return model.HeadResult{
		Status:           intPtr(resp.StatusCode),
		Etag:             headerPtr(resp.Header, "ETag"),
		LastModifiedMs:   lastModifiedMs(resp.Header),
		Error:            classifyStatusError(resp.StatusCode),
		LatencyMs:        latency,
		SetCookieHeaders: resp.Header.Values("Set-Cookie"),
	}, nil
}

func (c *Client) doGet(ctx context.Context, rawURL, cookieHeader string, extraHeaders map[string]string) (model.GetResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return model.GetResult{Error: model.ErrorKindUnexpected}, nil
	}
	c.applyHeaders(req, cookieHeader, extraHeaders)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return model.GetResult{Error: classifyTransportError(err), LatencyMs: latency}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return model.GetResult{Error: model.ErrorKindUnexpected, LatencyMs: latency}, nil
	}

	return model.GetResult{
		Status:           intPtr(resp.StatusCode),
		Body:             body,
		Etag:             headerPtr(resp.Header, "ETag"),
		LastModifiedMs:   lastModifiedMs(resp.Header),
		Error:            classifyStatusError(resp.StatusCode),
		LatencyMs:        latency,
		SetCookieHeaders: resp.Header.Values("Set-Cookie"),
	}, nil
}

func (c *Client) applyHeaders(req *http.Request, cookieHeader string, extraHeaders map[string]string) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
}

func intPtr(v int) *int { return &v }

func headerPtr(h http.Header, name string) *string {
	v := h.Get(name)
	if v == "" {
		return nil
	}
	return &v
}

func lastModifiedMs(h http.Header) *int64 {
	v := h.Get("Last-Modified")
	if v == "" {
		return nil
	}
	t, err := http.ParseTime(v)
	if err != nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func classifyStatusError(status int) model.ErrorKind {
	switch {
	case status >= 500 && status <= 599:
		return model.ErrorKindHTTP5xx
	case status >= 400 && status <= 499:
		return model.ErrorKindHTTP4xx
	default:
		return model.ErrorKindNone
	}
}

func classifyTransportError(err error) model.ErrorKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.ErrorKindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.ErrorKindDNSFailure
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return model.ErrorKindConnectionFailure
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrorKindTimeout
	}

	return model.ErrorKindUnexpected
}
