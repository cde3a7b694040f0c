package core

import "context"

type contextKey string

const (
	ctxKeyOperatorID contextKey = "operator_id"
	ctxKeyIPAddress  contextKey = "client_ip"
)

// ContextWithOperatorID records the operator who triggered the request.
func ContextWithOperatorID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyOperatorID, id)
}

// ContextWithIPAddress records the client address for run logs.
func ContextWithIPAddress(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyIPAddress, ip)
}

// OperatorIDFromContext returns the operator ID, or "" when unset.
func OperatorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyOperatorID).(string); ok {
		return v
	}
	return ""
}

// GetIPAddressFromContext extracts the client address from context.
func GetIPAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyIPAddress).(string); ok {
		return v
	}
	return ""
}
