// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the framework must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/lodeworks/lode/pkg/contextkeys"
//   ctx = context.WithValue(ctx, contextkeys.ChainKey, ch)
//   ch := ctx.Value(contextkeys.ChainKey).(*engine.Chain)
package contextkeys

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ChainKey contains the *engine.Chain driving the current request.
	// Set by: engine.Engine at dispatch start
	// Required by: action handlers that need the blackboard, user, or cancel flag
	// Type: *engine.Chain
	ChainKey Key = "chain"

	// RequestIDKey contains request ID string (UUID)
	// Set by: server request-ID middleware
	// Used by: Logger, access log action
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: server middleware
	// Used by: handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)
