package rps

import "context"

// GetMatch returns a single match record.
func (engine *Engine) GetMatch(ctx context.Context, matchID string) (Match, error) {
	return engine.store.GetMatch(ctx, matchID)
}

// OpenMatches lists joinable matches, oldest first, excluding the caller's own.
func (engine *Engine) OpenMatches(ctx context.Context, viewerID UserID, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultOpenListLimit
	}
	return engine.store.ListOpen(ctx, viewerID.String(), limit)
}

// History lists the caller's matched games, most recent first.
func (engine *Engine) History(ctx context.Context, userID UserID, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return engine.store.ListHistory(ctx, userID.String(), limit)
}

// Stats reports the open-match pool globally and for the caller.
func (engine *Engine) Stats(ctx context.Context, userID UserID) (LiveStats, error) {
	total, err := engine.store.CountOpen(ctx)
	if err != nil {
		return LiveStats{}, err
	}
	mine, err := engine.store.CountOpenHosted(ctx, userID.String())
	if err != nil {
		return LiveStats{}, err
	}
	return LiveStats{TotalOpen: total, MineOpen: mine}, nil
}

// BalanceOf reports the player's current token balance.
func (engine *Engine) BalanceOf(ctx context.Context, userID UserID) (TokenAmount, error) {
	return engine.store.Balance(ctx, userID.String())
}
