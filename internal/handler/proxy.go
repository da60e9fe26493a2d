package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"bridge-proxy-go/internal/model"
	"bridge-proxy-go/internal/service"
)

// ProxyHandler forwards client requests to the trezord bridge.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Read serves GET and HEAD. Only the bridge status page is forwarded; for any
// other path the connection is dropped without a response.
func (h *ProxyHandler) Read(c echo.Context) error {
	req := c.Request()

	if req.URL.Path != service.StatusPath {
		h.logger.Debug("dropping unrouted read",
			"method", req.Method,
			"path", req.URL.Path,
		)
		panic(http.ErrAbortHandler)
	}

	resp, err := h.service.Status(&model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   req.URL.Path,
		Header: req.Header,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relay(c, resp, req.Method != http.MethodHead)
	return nil
}

// Write serves POST. Every path is forwarded with the Host and Origin
// overrides applied.
func (h *ProxyHandler) Write(c echo.Context) error {
	req := c.Request()

	body, err := service.ReadBody(req.Body, req.Header)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return h.mapError(c, &service.ForwardError{
			Path: req.URL.Path,
			Err:  fmt.Errorf("read request body: %w", err),
		})
	}

	resp, err := h.service.Forward(&model.ProxyRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Path:     req.URL.Path,
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     body,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	h.relay(c, resp, true)
	return nil
}

// relay copies the already-filtered response headers and status to the
// client, then streams the body when writeBody is set.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse, writeBody bool) {
	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	if !writeBody {
		return
	}

	// Status is already on the wire, so a failed copy can only be logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}
}

// mapError reports every forwarding failure as 404 with the path and cause,
// which is what the test harness driving the bridge expects.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	msg := err.Error()
	var fe *service.ForwardError
	if !errors.As(err, &fe) {
		msg = (&service.ForwardError{Path: c.Request().URL.Path, Err: err}).Error()
	}

	return c.JSON(http.StatusNotFound, map[string]string{
		"error": msg,
	})
}
