package rps

import (
	"context"
	"time"
)

// ServiceOption configures an Engine instance.
type ServiceOption func(*Engine)

// OperationLogger records domain-level events emitted by Engine operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a state-changing engine operation.
type OperationLog struct {
	Operation string
	UserID    UserID
	MatchID   string
	Stake     TokenAmount
	Outcome   Outcome
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) ServiceOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithNotifier wires the outbound result-notification port.
func WithNotifier(notifier Notifier) ServiceOption {
	return func(engine *Engine) {
		engine.notifier = notifier
	}
}

// WithNotifyTimeout bounds the fire-and-forget notification dispatch.
func WithNotifyTimeout(timeout time.Duration) ServiceOption {
	return func(engine *Engine) {
		if timeout > 0 {
			engine.notifyTimeout = timeout
		}
	}
}
