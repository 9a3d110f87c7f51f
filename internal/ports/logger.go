package ports

import "context"

// Logger is the application-wide structured logging interface. Fields carry
// structured context; the context is reserved for request-scoped metadata.
type Logger interface {
	Debug(ctx context.Context, msg string, fields map[string]interface{})
	Info(ctx context.Context, msg string, fields map[string]interface{})
	Warn(ctx context.Context, msg string, fields map[string]interface{})
	Error(ctx context.Context, err error, msg string, fields map[string]interface{})
}
