package actions

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lodeworks/lode/pkg/contextkeys"
	"github.com/lodeworks/lode/pkg/engine"
)

// LogAction writes one access-log line per request. It drives the rest of the
// chain itself so it can record the final status and elapsed time.
type LogAction struct {
	logger *logrus.Logger
}

// NewLogAction wraps a LogAction in an engine action at order 1 so it
// brackets everything else on the chain.
func NewLogAction(logger *logrus.Logger) *engine.Action {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return engine.NewAction("access-log", &LogAction{logger: logger}).WithOrder(1)
}

// Run implements engine.Handler.
func (a *LogAction) Run(ctx context.Context, ch *engine.Chain, req *engine.Request, res *engine.Response) error {
	start := time.Now()
	err := ch.Next(ctx)

	fields := logrus.Fields{
		"method":      req.Method,
		"path":        req.URL.Path,
		"status":      res.Status,
		"duration_ms": time.Since(start).Milliseconds(),
		"depth":       ch.Depth(),
	}
	if id, ok := ctx.Value(contextkeys.RequestIDKey).(string); ok && id != "" {
		fields["request_id"] = id
	}
	if user := ch.User(); user != nil {
		fields["user"] = user.Username
	}

	entry := a.logger.WithFields(fields)
	if err != nil {
		entry.WithError(err).Warn("request failed")
	} else {
		entry.Info("request")
	}
	return err
}
