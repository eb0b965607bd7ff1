package rps

import (
	"context"
	"fmt"
	"strings"
)

// TokenAmount is an integer token amount in cents.
type TokenAmount int64

// Int64 returns the raw cent value.
func (amount TokenAmount) Int64() int64 {
	return int64(amount)
}

// UserID identifies a platform player.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewStake validates a wager amount. Zero is a valid friendly-game stake.
func NewStake(raw int64) (TokenAmount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidStake)
	}
	return TokenAmount(raw), nil
}

// Choice enumerates the three throwable hands.
type Choice string

const (
	ChoiceUnset    Choice = ""
	ChoiceRock     Choice = "rock"
	ChoicePaper    Choice = "paper"
	ChoiceScissors Choice = "scissors"
)

// ParseChoice maps a wire value onto a Choice.
func ParseChoice(raw string) (Choice, error) {
	switch Choice(strings.ToLower(strings.TrimSpace(raw))) {
	case ChoiceRock:
		return ChoiceRock, nil
	case ChoicePaper:
		return ChoicePaper, nil
	case ChoiceScissors:
		return ChoiceScissors, nil
	}
	return ChoiceUnset, fmt.Errorf("%w: %q", ErrInvalidChoice, raw)
}

// String returns the stored representation.
func (choice Choice) String() string {
	return string(choice)
}

// MatchStatus defines the match lifecycle.
type MatchStatus string

const (
	StatusPending   MatchStatus = "pending"
	StatusOpen      MatchStatus = "open"
	StatusMatched   MatchStatus = "matched"
	StatusResolved  MatchStatus = "resolved"
	StatusCancelled MatchStatus = "cancelled"
)

// String returns the stored representation.
func (status MatchStatus) String() string {
	return string(status)
}

// Match is the durable record of a single wagered game.
type Match struct {
	MatchID        string
	HostID         string
	ClientID       string // empty until a client claims the match
	HostChoice     Choice
	ClientChoice   Choice
	StakeCents     TokenAmount
	Status         MatchStatus
	AutoMatch      bool
	WinnerID       string // empty until resolved, empty forever on a tie
	CreatedUnixUTC int64
	MatchedUnixUTC int64 // zero until matched
}

// Player is the account view the engine and notifiers read. Balances are
// mutated exclusively through the Ledger contract.
type Player struct {
	UserID         string
	DisplayName    string
	BalanceCents   TokenAmount
	TelegramChatID string
	NotifyGames    bool
}

// LiveStats summarizes the open-match pool for a player.
type LiveStats struct {
	TotalOpen int64
	MineOpen  int64
}

// MatchStore is the durable match-state contract. Every status transition is
// a conditional update: the store reports a lost race as zero rows affected
// and the implementation maps that onto the matching sentinel error.
type MatchStore interface {
	CreateMatch(ctx context.Context, match Match) (Match, error)
	GetMatch(ctx context.Context, matchID string) (Match, error)
	FindPending(ctx context.Context, hostID string) (Match, bool, error)
	UpdatePendingStake(ctx context.Context, matchID string, stake TokenAmount) error
	OpenWithChoice(ctx context.Context, matchID string, choice Choice) error
	ClaimMatch(ctx context.Context, matchID string, clientID string, matchedUnixUTC int64) error
	RecordClientChoice(ctx context.Context, matchID string, clientID string, choice Choice) error
	ResolveMatch(ctx context.Context, matchID string, winnerID string) error
	CancelMatch(ctx context.Context, matchID string, hostID string) error
	ListOpen(ctx context.Context, excludeHostID string, limit int) ([]Match, error)
	ListHistory(ctx context.Context, userID string, limit int) ([]Match, error)
	CountOpen(ctx context.Context) (int64, error)
	CountOpenHosted(ctx context.Context, hostID string) (int64, error)
}

// Ledger applies balance deltas to player accounts. Debit is conditional on
// sufficient funds; both operations are single atomic adjustments.
type Ledger interface {
	Balance(ctx context.Context, userID string) (TokenAmount, error)
	Debit(ctx context.Context, userID string, amount TokenAmount) error
	Credit(ctx context.Context, userID string, amount TokenAmount) error
}

// Accounts exposes read-only player data owned by the wider platform.
type Accounts interface {
	GetPlayer(ctx context.Context, userID string) (Player, error)
	Entitlement(ctx context.Context, userID string, key string) (string, bool, error)
}

// Store is the persistence contract used by Engine. WithTx runs fn inside a
// single transaction; the txStore passed to fn sees uncommitted writes.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	MatchStore
	Ledger
	Accounts
}
