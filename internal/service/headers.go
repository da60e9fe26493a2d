package service

import (
	"io"
	"net/http"
	"strconv"
	"strings"
)

const (
	headerHost     = "Host"
	headerOrigin   = "Origin"
	headerACAO     = "Access-Control-Allow-Origin"
	headerTE       = "Transfer-Encoding"
	headerCLength  = "Content-Length"
	wildcardOrigin = "*"
)

// Overrides are the fixed request headers forced onto forwarded POST requests.
type Overrides struct {
	Host   string // upstream authority, host:port
	Origin string // origin trusted by the bridge
}

// RewriteRequestHeaders returns a copy of original with Host and Origin
// replaced by the overrides. Any value the client sent for those keys is
// discarded; every other header passes through unchanged.
func RewriteRequestHeaders(original http.Header, o Overrides) http.Header {
	dst := original.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	// Clone keeps non-canonical keys as-is, so drop those spellings too.
	for key := range dst {
		if strings.EqualFold(key, headerHost) || strings.EqualFold(key, headerOrigin) {
			delete(dst, key)
		}
	}
	dst.Set(headerHost, o.Host)
	dst.Set(headerOrigin, o.Origin)
	return dst
}

// RelayResponseHeaders builds the client-facing header set for an upstream
// response. Access-Control-Allow-Origin echoes the value from the client's
// own request (or "*"), so CORS reflects the real caller even though the
// bridge saw the trusted origin. Transfer-Encoding is never relayed: the body
// is re-framed by the server.
func RelayResponseHeaders(clientHeader, upstreamHeader http.Header) http.Header {
	dst := make(http.Header, len(upstreamHeader)+1)
	for key, vals := range upstreamHeader {
		if strings.EqualFold(key, headerTE) || strings.EqualFold(key, headerACAO) {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}

	origin := wildcardOrigin
	if v := clientHeader.Get(headerACAO); v != "" {
		origin = v
	}
	dst.Set(headerACAO, origin)
	return dst
}

// ContentLength returns the body length declared by the content-length
// header. A missing, malformed or negative value yields 0.
func ContentLength(h http.Header) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(h.Get(headerCLength)), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ReadBody reads exactly the declared content-length bytes from r.
func ReadBody(r io.Reader, h http.Header) ([]byte, error) {
	n := ContentLength(h)
	if n == 0 || r == nil {
		return []byte{}, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
