package rps

import "context"

// ResultNotice is a settled outcome seen from one participant's perspective.
// Rendering it into user-facing text is the notifier's concern.
type ResultNotice struct {
	UserID         string
	Result         PlayerResult
	OpponentName   string
	OwnChoice      Choice
	OpponentChoice Choice
	StakeCents     TokenAmount
}

// Notifier is the outbound message sink invoked after settlement commits.
// Delivery is best-effort: errors are logged by the engine and swallowed,
// they never affect match state.
type Notifier interface {
	NotifyResult(ctx context.Context, notice ResultNotice) error
}
