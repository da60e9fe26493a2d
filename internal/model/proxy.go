// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound client request to be forwarded to the bridge.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	// Body holds the bytes read from the client; nil for GET and HEAD.
	Body []byte
}

// ProxyResponse is the bridge response to be relayed back to the client.
// Header has already been passed through the response relay policy.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}
