package rps

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Engine orchestrates the match lifecycle over a Store. It is the only
// component that calls the Resolver, the Ledger, and the MatchStore together.
type Engine struct {
	store         Store
	nowFn         func() int64
	logger        OperationLogger
	notifier      Notifier
	notifyTimeout time.Duration
}

// NewEngine wires an Engine.
func NewEngine(store Store, now func() int64, options ...ServiceOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	engine := &Engine{store: store, nowFn: now, notifyTimeout: defaultNotifyTimeout}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// Prepare reserves the host's single pending match, creating it when absent.
// Nothing is escrowed yet; the stake may still change until Start.
func (engine *Engine) Prepare(ctx context.Context, hostID UserID, stake TokenAmount) (Match, error) {
	var prepared Match
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		balance, err := txStore.Balance(ctx, hostID.String())
		if err != nil {
			return err
		}
		if stake > balance {
			return ErrInsufficientBalance
		}
		pending, found, err := txStore.FindPending(ctx, hostID.String())
		if err != nil {
			return err
		}
		if found {
			if pending.StakeCents != stake {
				if err := txStore.UpdatePendingStake(ctx, pending.MatchID, stake); err != nil {
					return err
				}
				pending.StakeCents = stake
			}
			prepared = pending
			return nil
		}
		prepared, err = txStore.CreateMatch(ctx, Match{
			HostID:         hostID.String(),
			StakeCents:     stake,
			Status:         StatusPending,
			AutoMatch:      true,
			CreatedUnixUTC: engine.nowFn(),
		})
		return err
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationPrepare,
		UserID:    hostID,
		MatchID:   prepared.MatchID,
		Stake:     stake,
		Error:     operationError,
	})
	if operationError != nil {
		return Match{}, operationError
	}
	return prepared, nil
}

// Start escrows the stake and opens the host's pending match with a choice.
// The whole transition runs in one transaction: enforcing the open-match
// entitlement, debiting the host, and flipping Pending to Open.
func (engine *Engine) Start(ctx context.Context, hostID UserID, choice Choice, stake TokenAmount) (Match, error) {
	if choice == ChoiceUnset {
		err := fmt.Errorf("%w: starting a match requires a choice", ErrInvalidChoice)
		engine.logOperation(ctx, OperationLog{Operation: operationStart, UserID: hostID, Stake: stake, Error: err})
		return Match{}, err
	}
	var opened Match
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		limit, err := engine.hostMatchLimit(ctx, txStore, hostID)
		if err != nil {
			return err
		}
		openCount, err := txStore.CountOpenHosted(ctx, hostID.String())
		if err != nil {
			return err
		}
		if openCount >= limit {
			return ErrMatchLimitReached
		}
		pending, found, err := txStore.FindPending(ctx, hostID.String())
		if err != nil {
			return err
		}
		if !found {
			pending, err = txStore.CreateMatch(ctx, Match{
				HostID:         hostID.String(),
				StakeCents:     stake,
				Status:         StatusPending,
				AutoMatch:      true,
				CreatedUnixUTC: engine.nowFn(),
			})
			if err != nil {
				return err
			}
		} else if pending.StakeCents != stake {
			if err := txStore.UpdatePendingStake(ctx, pending.MatchID, stake); err != nil {
				return err
			}
			pending.StakeCents = stake
		}
		if err := txStore.Debit(ctx, hostID.String(), stake); err != nil {
			return err
		}
		if err := txStore.OpenWithChoice(ctx, pending.MatchID, choice); err != nil {
			return err
		}
		pending.HostChoice = choice
		pending.Status = StatusOpen
		opened = pending
		return nil
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationStart,
		UserID:    hostID,
		MatchID:   opened.MatchID,
		Stake:     stake,
		Error:     operationError,
	})
	if operationError != nil {
		return Match{}, operationError
	}
	return opened, nil
}

// Join claims an open match for the client. Exactly one of any number of
// concurrent joiners wins the claim; the rest see ErrMatchNotAvailable. A
// non-unset choice continues straight into resolution in the same transaction.
func (engine *Engine) Join(ctx context.Context, matchID string, clientID UserID, choice Choice) (Match, error) {
	joined, err := engine.join(ctx, matchID, clientID, choice)
	engine.logOperation(ctx, OperationLog{
		Operation: operationJoin,
		UserID:    clientID,
		MatchID:   matchID,
		Stake:     joined.StakeCents,
		Error:     err,
	})
	if err != nil {
		return Match{}, err
	}
	engine.notifyIfResolved(joined)
	return joined, nil
}

// AutoMatch pairs the client with any open host, oldest first, skipping the
// client's own matches. Every candidate claim races fairly; when all of them
// are lost or the pool is empty the caller gets ErrMatchNotAvailable.
func (engine *Engine) AutoMatch(ctx context.Context, clientID UserID, choice Choice) (Match, error) {
	candidates, err := engine.store.ListOpen(ctx, clientID.String(), autoMatchCandidateCap)
	if err == nil && len(candidates) == 0 {
		err = ErrMatchNotAvailable
	}
	var joined Match
	if err == nil {
		err = ErrMatchNotAvailable
		for _, candidate := range candidates {
			if !candidate.AutoMatch {
				continue
			}
			joined, err = engine.join(ctx, candidate.MatchID, clientID, choice)
			if err == nil || !errors.Is(err, ErrMatchNotAvailable) {
				break
			}
		}
	}
	engine.logOperation(ctx, OperationLog{
		Operation: operationAutoMatch,
		UserID:    clientID,
		MatchID:   joined.MatchID,
		Stake:     joined.StakeCents,
		Error:     err,
	})
	if err != nil {
		return Match{}, err
	}
	engine.notifyIfResolved(joined)
	return joined, nil
}

// Vote records the client's choice on a matched game and resolves it:
// Resolver outcome, ledger settlement, and the Matched to Resolved flip all
// commit atomically. A lost settlement leaves the match Matched for retry.
func (engine *Engine) Vote(ctx context.Context, matchID string, clientID UserID, choice Choice) (Match, error) {
	if choice == ChoiceUnset {
		err := fmt.Errorf("%w: voting requires a choice", ErrInvalidChoice)
		engine.logOperation(ctx, OperationLog{Operation: operationVote, UserID: clientID, MatchID: matchID, Error: err})
		return Match{}, err
	}
	var resolved Match
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		match, err := txStore.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		switch match.Status {
		case StatusMatched:
		case StatusResolved:
			return ErrAlreadyResolved
		default:
			return ErrMatchNotAvailable
		}
		if match.ClientID != clientID.String() {
			return ErrNotParticipant
		}
		resolved, err = engine.resolveAndSettle(ctx, txStore, match, choice)
		return err
	})
	var outcome Outcome
	if operationError == nil {
		outcome = Resolve(resolved.HostChoice, resolved.ClientChoice)
	}
	engine.logOperation(ctx, OperationLog{
		Operation: operationVote,
		UserID:    clientID,
		MatchID:   matchID,
		Stake:     resolved.StakeCents,
		Outcome:   outcome,
		Error:     operationError,
	})
	if operationError != nil {
		return Match{}, operationError
	}
	engine.notifyIfResolved(resolved)
	return resolved, nil
}

// Cancel withdraws an open, unjoined match and refunds the escrowed stake.
func (engine *Engine) Cancel(ctx context.Context, hostID UserID, matchID string) error {
	operationError := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		match, err := txStore.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if match.HostID != hostID.String() {
			return ErrNotHost
		}
		if match.ClientID != "" || match.Status == StatusMatched || match.Status == StatusResolved {
			return ErrAlreadyJoined
		}
		if match.Status != StatusOpen {
			return ErrMatchNotAvailable
		}
		if err := txStore.CancelMatch(ctx, matchID, hostID.String()); err != nil {
			return err
		}
		return txStore.Credit(ctx, hostID.String(), match.StakeCents)
	})
	engine.logOperation(ctx, OperationLog{
		Operation: operationCancel,
		UserID:    hostID,
		MatchID:   matchID,
		Error:     operationError,
	})
	return operationError
}

func (engine *Engine) join(ctx context.Context, matchID string, clientID UserID, choice Choice) (Match, error) {
	var joined Match
	err := engine.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		match, err := txStore.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if match.HostID == clientID.String() {
			return ErrMatchNotAvailable
		}
		if match.Status != StatusOpen || match.ClientID != "" {
			return ErrMatchNotAvailable
		}
		matchedAt := engine.nowFn()
		if err := txStore.ClaimMatch(ctx, matchID, clientID.String(), matchedAt); err != nil {
			return err
		}
		match.ClientID = clientID.String()
		match.Status = StatusMatched
		match.MatchedUnixUTC = matchedAt
		if choice != ChoiceUnset {
			match, err = engine.resolveAndSettle(ctx, txStore, match, choice)
			if err != nil {
				return err
			}
		}
		joined = match
		return nil
	})
	if err != nil {
		return Match{}, err
	}
	return joined, nil
}

// resolveAndSettle runs inside the caller's transaction. The match must be
// Matched with the client set; the Matched to Resolved flip is the
// exactly-once guard for settlement.
func (engine *Engine) resolveAndSettle(ctx context.Context, txStore Store, match Match, clientChoice Choice) (Match, error) {
	if err := txStore.RecordClientChoice(ctx, match.MatchID, match.ClientID, clientChoice); err != nil {
		return Match{}, err
	}
	outcome := Resolve(match.HostChoice, clientChoice)
	winnerID := outcome.Winner(match.HostID, match.ClientID)
	if err := txStore.ResolveMatch(ctx, match.MatchID, winnerID); err != nil {
		return Match{}, err
	}
	if err := engine.settle(ctx, txStore, match, outcome); err != nil {
		return Match{}, err
	}
	match.ClientChoice = clientChoice
	match.Status = StatusResolved
	match.WinnerID = winnerID
	return match, nil
}

// settle applies the balance movement for one resolved match. The host's
// stake was escrowed at Start; the client is debited here. On a tie both
// sides get their stake back, on a decisive outcome the winner takes both.
func (engine *Engine) settle(ctx context.Context, txStore Store, match Match, outcome Outcome) error {
	stake := match.StakeCents
	if err := txStore.Debit(ctx, match.ClientID, stake); err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return ErrBalanceMismatch
		}
		return err
	}
	switch outcome {
	case OutcomeTie:
		if err := txStore.Credit(ctx, match.HostID, stake); err != nil {
			return err
		}
		return txStore.Credit(ctx, match.ClientID, stake)
	case OutcomeHostWins:
		return txStore.Credit(ctx, match.HostID, 2*stake)
	case OutcomeClientWins:
		return txStore.Credit(ctx, match.ClientID, 2*stake)
	}
	return nil
}

func (engine *Engine) hostMatchLimit(ctx context.Context, txStore Store, hostID UserID) (int64, error) {
	raw, found, err := txStore.Entitlement(ctx, hostID.String(), EntitlementMatchLimit)
	if err != nil {
		return 0, err
	}
	if !found {
		return defaultMatchLimit, nil
	}
	parsed, parseErr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if parseErr != nil || parsed < defaultMatchLimit {
		return defaultMatchLimit, nil
	}
	return parsed, nil
}

// notifyIfResolved dispatches both result notices on a detached goroutine.
// Delivery failures are logged and swallowed; settlement has already
// committed by the time this runs.
func (engine *Engine) notifyIfResolved(match Match) {
	if engine.notifier == nil || match.Status != StatusResolved {
		return
	}
	outcome := Resolve(match.HostChoice, match.ClientChoice)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), engine.notifyTimeout)
		defer cancel()
		host, hostErr := engine.store.GetPlayer(ctx, match.HostID)
		client, clientErr := engine.store.GetPlayer(ctx, match.ClientID)
		if hostErr != nil || clientErr != nil {
			engine.logOperation(ctx, OperationLog{
				Operation: operationNotify,
				MatchID:   match.MatchID,
				Outcome:   outcome,
				Error:     errors.Join(hostErr, clientErr),
			})
			return
		}
		for _, notice := range BuildResultNotices(match, outcome, host, client) {
			if err := engine.notifier.NotifyResult(ctx, notice); err != nil {
				recipient, _ := NewUserID(notice.UserID)
				engine.logOperation(ctx, OperationLog{
					Operation: operationNotify,
					UserID:    recipient,
					MatchID:   match.MatchID,
					Outcome:   outcome,
					Error:     err,
				})
			}
		}
	}()
}

// BuildResultNotices renders a resolved match into the two per-participant
// notices handed to the notification port.
func BuildResultNotices(match Match, outcome Outcome, host Player, client Player) []ResultNotice {
	hostResult, clientResult := ResultEven, ResultEven
	switch outcome {
	case OutcomeHostWins:
		hostResult, clientResult = ResultWon, ResultLost
	case OutcomeClientWins:
		hostResult, clientResult = ResultLost, ResultWon
	}
	return []ResultNotice{
		{
			UserID:         match.HostID,
			Result:         hostResult,
			OpponentName:   client.DisplayName,
			OwnChoice:      match.HostChoice,
			OpponentChoice: match.ClientChoice,
			StakeCents:     match.StakeCents,
		},
		{
			UserID:         match.ClientID,
			Result:         clientResult,
			OpponentName:   host.DisplayName,
			OwnChoice:      match.ClientChoice,
			OpponentChoice: match.HostChoice,
			StakeCents:     match.StakeCents,
		},
	}
}

func (engine *Engine) logOperation(ctx context.Context, entry OperationLog) {
	if engine.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	engine.logger.LogOperation(ctx, entry)
}
