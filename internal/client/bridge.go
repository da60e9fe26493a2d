// Package client provides the upstream HTTP client for the trezord bridge.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"bridge-proxy-go/internal/config"
	"bridge-proxy-go/internal/metrics"
	"bridge-proxy-go/internal/model"
)

// BridgeClient sends requests to the bridge daemon.
type BridgeClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBridgeClient creates a BridgeClient with connection pooling.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBridgeClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BridgeClient {
	transport := &http.Transport{
		// The bridge sits on loopback or a docker bridge network; never
		// route it through an environment proxy.
		Proxy:               nil,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BridgeClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			// Redirects from the bridge are relayed to the caller untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:  logger.With("component", "bridge_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the bridge and returns the raw response.
// The caller is responsible for closing the response body.
func (c *BridgeClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
		"host", req.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
			c.metrics.UpstreamFailures.WithLabelValues(method).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Send builds and executes a request. A Host entry in header becomes the
// request authority, since net/http ignores Host in Request.Header.
// body may be nil. The caller is responsible for closing the returned body.
func (c *BridgeClient) Send(ctx context.Context, method, url string, header http.Header, body []byte) (*model.ProxyResponse, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header != nil {
		req.Header = header
		if host := header.Get("Host"); host != "" {
			req.Host = host
		}
	}

	return c.Do(req)
}
