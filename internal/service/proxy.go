// Package service implements the core proxy forwarding logic.
package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"bridge-proxy-go/internal/client"
	"bridge-proxy-go/internal/config"
	"bridge-proxy-go/internal/model"
)

// StatusPath is the only GET route forwarded to the bridge.
const StatusPath = "/status/"

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client    *client.BridgeClient
	logger    *slog.Logger
	baseURL   *url.URL
	overrides Overrides
}

// NewProxyService creates a ProxyService for the configured bridge.
func NewProxyService(c *client.BridgeClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse upstream host: %w", err)
	}

	return &ProxyService{
		client:  c,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
		overrides: Overrides{
			Host:   cfg.Upstream.Host,
			Origin: cfg.Upstream.Origin,
		},
	}, nil
}

// Status fetches the bridge status page. Client headers are not sent and no
// overrides apply; pr.Header is only consulted for the response relay.
// The caller is responsible for closing the response body.
func (s *ProxyService) Status(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	s.logger.Debug("forwarding status request", "method", pr.Method)

	resp, err := s.client.Send(pr.Ctx, http.MethodGet, s.buildUpstreamURL(StatusPath, ""), nil, nil)
	if err != nil {
		return nil, &ForwardError{Path: pr.Path, Err: err}
	}

	resp.Header = RelayResponseHeaders(pr.Header, resp.Header)
	return resp, nil
}

// Forward POSTs pr to the same path on the bridge with Host and Origin
// overridden. The caller is responsible for closing the response body.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	upstreamURL := s.buildUpstreamURL(pr.Path, pr.RawQuery)
	header := RewriteRequestHeaders(pr.Header, s.overrides)

	s.logger.Debug("forwarding request",
		"method", http.MethodPost,
		"path", pr.Path,
		"bytes_in", len(pr.Body),
	)

	resp, err := s.client.Send(pr.Ctx, http.MethodPost, upstreamURL, header, pr.Body)
	if err != nil {
		return nil, &ForwardError{Path: pr.Path, Err: err}
	}

	resp.Header = RelayResponseHeaders(pr.Header, resp.Header)
	return resp, nil
}

func (s *ProxyService) buildUpstreamURL(path, rawQuery string) string {
	u := *s.baseURL
	u.Path = path
	u.RawQuery = rawQuery
	return u.String()
}
