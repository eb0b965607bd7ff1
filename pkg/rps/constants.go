package rps

import "time"

const (
	operationPrepare   = "prepare"
	operationStart     = "start"
	operationJoin      = "join"
	operationAutoMatch = "automatch"
	operationVote      = "vote"
	operationCancel    = "cancel"
	operationNotify    = "notify"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	// EntitlementMatchLimit unlocks more than one concurrently open match.
	EntitlementMatchLimit = "game-rps-unlock-multi"
	// EntitlementGameNotifications opts a player into outcome messages.
	EntitlementGameNotifications = "tgbot-gamenotifications"

	defaultMatchLimit     = 1
	DefaultOpenListLimit  = 20
	DefaultHistoryLimit   = 3
	defaultNotifyTimeout  = 5 * time.Second
	autoMatchCandidateCap = 20
)

// PlayerResult is an outcome seen from one participant's perspective.
type PlayerResult string

const (
	ResultWon  PlayerResult = "won"
	ResultLost PlayerResult = "lost"
	ResultEven PlayerResult = "even"
)
