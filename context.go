package authcore

import "context"

type clientIPContextKey struct{}
type deviceInfoContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses
// it as the rate-limit client key when LoginParams.ClientKey is empty,
// and records it on issued sessions.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithDeviceInfo attaches a device description (typically the HTTP
// User-Agent) to ctx. It is recorded on issued sessions.
func WithDeviceInfo(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceInfoContextKey{}, device)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func deviceInfoFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	device, _ := ctx.Value(deviceInfoContextKey{}).(string)
	return device
}
