package rps

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// stubState is the shared in-memory world behind stubStore and stubTx.
type stubState struct {
	players      map[string]Player
	entitlements map[string]map[string]string
	matches      map[string]Match
	order        []string
	sequence     int
}

func newStubState() *stubState {
	return &stubState{
		players:      map[string]Player{},
		entitlements: map[string]map[string]string{},
		matches:      map[string]Match{},
	}
}

func (state *stubState) clone() *stubState {
	copied := newStubState()
	for id, player := range state.players {
		copied.players[id] = player
	}
	for id, settings := range state.entitlements {
		copiedSettings := map[string]string{}
		for key, value := range settings {
			copiedSettings[key] = value
		}
		copied.entitlements[id] = copiedSettings
	}
	for id, match := range state.matches {
		copied.matches[id] = match
	}
	copied.order = append([]string{}, state.order...)
	copied.sequence = state.sequence
	return copied
}

func (state *stubState) createMatch(match Match) (Match, error) {
	state.sequence++
	match.MatchID = fmt.Sprintf("match-%d", state.sequence)
	state.matches[match.MatchID] = match
	state.order = append(state.order, match.MatchID)
	return match, nil
}

func (state *stubState) getMatch(matchID string) (Match, error) {
	match, found := state.matches[matchID]
	if !found {
		return Match{}, ErrUnknownMatch
	}
	return match, nil
}

func (state *stubState) findPending(hostID string) (Match, bool, error) {
	for _, matchID := range state.order {
		match := state.matches[matchID]
		if match.HostID == hostID && match.Status == StatusPending {
			return match, true, nil
		}
	}
	return Match{}, false, nil
}

func (state *stubState) updatePendingStake(matchID string, stake TokenAmount) error {
	match, found := state.matches[matchID]
	if !found || match.Status != StatusPending {
		return ErrMatchNotAvailable
	}
	match.StakeCents = stake
	state.matches[matchID] = match
	return nil
}

func (state *stubState) openWithChoice(matchID string, choice Choice) error {
	match, found := state.matches[matchID]
	if !found || match.Status != StatusPending {
		return ErrMatchNotAvailable
	}
	match.HostChoice = choice
	match.Status = StatusOpen
	state.matches[matchID] = match
	return nil
}

func (state *stubState) claimMatch(matchID string, clientID string, matchedUnixUTC int64) error {
	match, found := state.matches[matchID]
	if !found || match.Status != StatusOpen || match.ClientID != "" {
		return ErrMatchNotAvailable
	}
	match.ClientID = clientID
	match.Status = StatusMatched
	match.MatchedUnixUTC = matchedUnixUTC
	state.matches[matchID] = match
	return nil
}

func (state *stubState) recordClientChoice(matchID string, clientID string, choice Choice) error {
	match, found := state.matches[matchID]
	if !found || match.Status != StatusMatched || match.ClientID != clientID {
		return ErrMatchNotAvailable
	}
	match.ClientChoice = choice
	state.matches[matchID] = match
	return nil
}

func (state *stubState) resolveMatch(matchID string, winnerID string) error {
	match, found := state.matches[matchID]
	if !found {
		return ErrUnknownMatch
	}
	if match.Status == StatusResolved {
		return ErrAlreadyResolved
	}
	if match.Status != StatusMatched {
		return ErrMatchNotAvailable
	}
	match.Status = StatusResolved
	match.WinnerID = winnerID
	state.matches[matchID] = match
	return nil
}

func (state *stubState) cancelMatch(matchID string, hostID string) error {
	match, found := state.matches[matchID]
	if !found || match.Status != StatusOpen || match.ClientID != "" || match.HostID != hostID {
		return ErrMatchNotAvailable
	}
	match.Status = StatusCancelled
	state.matches[matchID] = match
	return nil
}

func (state *stubState) listOpen(excludeHostID string, limit int) ([]Match, error) {
	matches := []Match{}
	for _, matchID := range state.order {
		if len(matches) == limit {
			break
		}
		match := state.matches[matchID]
		if match.Status == StatusOpen && match.ClientID == "" && match.HostID != excludeHostID {
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func (state *stubState) listHistory(userID string, limit int) ([]Match, error) {
	matches := []Match{}
	for index := len(state.order) - 1; index >= 0 && len(matches) < limit; index-- {
		match := state.matches[state.order[index]]
		if match.ClientID == "" {
			continue
		}
		if match.HostID == userID || match.ClientID == userID {
			matches = append(matches, match)
		}
	}
	return matches, nil
}

func (state *stubState) countOpen() (int64, error) {
	var count int64
	for _, match := range state.matches {
		if match.Status == StatusOpen && match.ClientID == "" {
			count++
		}
	}
	return count, nil
}

func (state *stubState) countOpenHosted(hostID string) (int64, error) {
	var count int64
	for _, match := range state.matches {
		if match.Status == StatusOpen && match.ClientID == "" && match.HostID == hostID {
			count++
		}
	}
	return count, nil
}

func (state *stubState) balance(userID string) (TokenAmount, error) {
	player, found := state.players[userID]
	if !found {
		return 0, ErrUnknownPlayer
	}
	return player.BalanceCents, nil
}

func (state *stubState) debit(userID string, amount TokenAmount) error {
	player, found := state.players[userID]
	if !found {
		return ErrUnknownPlayer
	}
	if player.BalanceCents < amount {
		return ErrInsufficientBalance
	}
	player.BalanceCents -= amount
	state.players[userID] = player
	return nil
}

func (state *stubState) credit(userID string, amount TokenAmount) error {
	player, found := state.players[userID]
	if !found {
		return ErrUnknownPlayer
	}
	player.BalanceCents += amount
	state.players[userID] = player
	return nil
}

func (state *stubState) getPlayer(userID string) (Player, error) {
	player, found := state.players[userID]
	if !found {
		return Player{}, ErrUnknownPlayer
	}
	return player, nil
}

func (state *stubState) entitlement(userID string, key string) (string, bool, error) {
	settings, found := state.entitlements[userID]
	if !found {
		return "", false, nil
	}
	value, present := settings[key]
	return value, present, nil
}

// stubStore is a linearizable in-memory Store. WithTx serializes transactions
// and restores a snapshot when fn fails, matching real rollback behavior.
type stubStore struct {
	mu    sync.Mutex
	state *stubState
}

func newStubStore() *stubStore {
	return &stubStore{state: newStubState()}
}

func (store *stubStore) addPlayer(player Player) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.state.players[player.UserID] = player
}

func (store *stubStore) setEntitlement(userID string, key string, value string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	settings, found := store.state.entitlements[userID]
	if !found {
		settings = map[string]string{}
		store.state.entitlements[userID] = settings
	}
	settings[key] = value
}

func (store *stubStore) mustBalance(test *testing.T, userID string) TokenAmount {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	balance, err := store.state.balance(userID)
	if err != nil {
		test.Fatalf("balance %s: %v", userID, err)
	}
	return balance
}

func (store *stubStore) mustMatch(test *testing.T, matchID string) Match {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	match, err := store.state.getMatch(matchID)
	if err != nil {
		test.Fatalf("match %s: %v", matchID, err)
	}
	return match
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	snapshot := store.state.clone()
	if err := fn(ctx, &stubTx{state: store.state}); err != nil {
		*store.state = *snapshot
		return err
	}
	return nil
}

func (store *stubStore) CreateMatch(_ context.Context, match Match) (Match, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.createMatch(match)
}

func (store *stubStore) GetMatch(_ context.Context, matchID string) (Match, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.getMatch(matchID)
}

func (store *stubStore) FindPending(_ context.Context, hostID string) (Match, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.findPending(hostID)
}

func (store *stubStore) UpdatePendingStake(_ context.Context, matchID string, stake TokenAmount) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.updatePendingStake(matchID, stake)
}

func (store *stubStore) OpenWithChoice(_ context.Context, matchID string, choice Choice) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.openWithChoice(matchID, choice)
}

func (store *stubStore) ClaimMatch(_ context.Context, matchID string, clientID string, matchedUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.claimMatch(matchID, clientID, matchedUnixUTC)
}

func (store *stubStore) RecordClientChoice(_ context.Context, matchID string, clientID string, choice Choice) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.recordClientChoice(matchID, clientID, choice)
}

func (store *stubStore) ResolveMatch(_ context.Context, matchID string, winnerID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.resolveMatch(matchID, winnerID)
}

func (store *stubStore) CancelMatch(_ context.Context, matchID string, hostID string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.cancelMatch(matchID, hostID)
}

func (store *stubStore) ListOpen(_ context.Context, excludeHostID string, limit int) ([]Match, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.listOpen(excludeHostID, limit)
}

func (store *stubStore) ListHistory(_ context.Context, userID string, limit int) ([]Match, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.listHistory(userID, limit)
}

func (store *stubStore) CountOpen(_ context.Context) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.countOpen()
}

func (store *stubStore) CountOpenHosted(_ context.Context, hostID string) (int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.countOpenHosted(hostID)
}

func (store *stubStore) Balance(_ context.Context, userID string) (TokenAmount, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.balance(userID)
}

func (store *stubStore) Debit(_ context.Context, userID string, amount TokenAmount) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.debit(userID, amount)
}

func (store *stubStore) Credit(_ context.Context, userID string, amount TokenAmount) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.credit(userID, amount)
}

func (store *stubStore) GetPlayer(_ context.Context, userID string) (Player, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.getPlayer(userID)
}

func (store *stubStore) Entitlement(_ context.Context, userID string, key string) (string, bool, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.state.entitlement(userID, key)
}

// stubTx is the unlocked view handed to WithTx callbacks.
type stubTx struct {
	state *stubState
}

func (tx *stubTx) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, tx)
}

func (tx *stubTx) CreateMatch(_ context.Context, match Match) (Match, error) {
	return tx.state.createMatch(match)
}

func (tx *stubTx) GetMatch(_ context.Context, matchID string) (Match, error) {
	return tx.state.getMatch(matchID)
}

func (tx *stubTx) FindPending(_ context.Context, hostID string) (Match, bool, error) {
	return tx.state.findPending(hostID)
}

func (tx *stubTx) UpdatePendingStake(_ context.Context, matchID string, stake TokenAmount) error {
	return tx.state.updatePendingStake(matchID, stake)
}

func (tx *stubTx) OpenWithChoice(_ context.Context, matchID string, choice Choice) error {
	return tx.state.openWithChoice(matchID, choice)
}

func (tx *stubTx) ClaimMatch(_ context.Context, matchID string, clientID string, matchedUnixUTC int64) error {
	return tx.state.claimMatch(matchID, clientID, matchedUnixUTC)
}

func (tx *stubTx) RecordClientChoice(_ context.Context, matchID string, clientID string, choice Choice) error {
	return tx.state.recordClientChoice(matchID, clientID, choice)
}

func (tx *stubTx) ResolveMatch(_ context.Context, matchID string, winnerID string) error {
	return tx.state.resolveMatch(matchID, winnerID)
}

func (tx *stubTx) CancelMatch(_ context.Context, matchID string, hostID string) error {
	return tx.state.cancelMatch(matchID, hostID)
}

func (tx *stubTx) ListOpen(_ context.Context, excludeHostID string, limit int) ([]Match, error) {
	return tx.state.listOpen(excludeHostID, limit)
}

func (tx *stubTx) ListHistory(_ context.Context, userID string, limit int) ([]Match, error) {
	return tx.state.listHistory(userID, limit)
}

func (tx *stubTx) CountOpen(_ context.Context) (int64, error) {
	return tx.state.countOpen()
}

func (tx *stubTx) CountOpenHosted(_ context.Context, hostID string) (int64, error) {
	return tx.state.countOpenHosted(hostID)
}

func (tx *stubTx) Balance(_ context.Context, userID string) (TokenAmount, error) {
	return tx.state.balance(userID)
}

func (tx *stubTx) Debit(_ context.Context, userID string, amount TokenAmount) error {
	return tx.state.debit(userID, amount)
}

func (tx *stubTx) Credit(_ context.Context, userID string, amount TokenAmount) error {
	return tx.state.credit(userID, amount)
}

func (tx *stubTx) GetPlayer(_ context.Context, userID string) (Player, error) {
	return tx.state.getPlayer(userID)
}

func (tx *stubTx) Entitlement(_ context.Context, userID string, key string) (string, bool, error) {
	return tx.state.entitlement(userID, key)
}
