package web

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/onboard/internal/core"
)

// OperatorHeader identifies the admin starting an import or retraction.
const OperatorHeader = "X-Operator-ID"

// WithRequestMetadata adds the client IP and operator ID to ctx for audit
// logging and import records.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	ctx = core.ContextWithOperatorID(ctx, operatorID(r))
	return ctx
}

func operatorID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(OperatorHeader))
}

// clientIP strips the port from RemoteAddr, which TrustedRealIP has already
// replaced with the forwarded address when the peer is a trusted proxy.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
