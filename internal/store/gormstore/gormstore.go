package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/rps/pkg/rps"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgCheckViolationCode = "23514"
	sqliteConstraintCode = 19

	errorOperationStore = "store"
	errorSubjectMatch   = "match"
	errorSubjectPlayer  = "player"
	errorSubjectBalance = "balance"
	errorCodeCreate     = "create"
	errorCodeGet        = "get"
	errorCodeList       = "list"
	errorCodeCount      = "count"
	errorCodeUpdate     = "update"
	errorCodeConflict   = "conflict"
	errorCodeDebit      = "debit"
	errorCodeCredit     = "credit"
	errorCodeSettings   = "settings"
)

// Store implements rps.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Production postgres deployments run managed
// migrations instead; this covers sqlite and test databases.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&Player{}, &Match{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore rps.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateMatch(ctx context.Context, match rps.Match) (rps.Match, error) {
	row := Match{
		MatchID:      match.MatchID,
		HostID:       match.HostID,
		ClientID:     match.ClientID,
		HostChoice:   match.HostChoice.String(),
		ClientChoice: match.ClientChoice.String(),
		StakeCents:   match.StakeCents.Int64(),
		Status:       match.Status.String(),
		AutoMatch:    match.AutoMatch,
		WinnerID:     match.WinnerID,
		CreatedAt:    unixOrNow(match.CreatedUnixUTC),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return rps.Match{}, wrapStoreError(errorSubjectMatch, errorCodeCreate, err)
	}
	return mapMatch(row), nil
}

func (store *Store) GetMatch(ctx context.Context, matchID string) (rps.Match, error) {
	var row Match
	err := store.db.WithContext(ctx).Where("match_id = ?", matchID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rps.Match{}, wrapStoreError(errorSubjectMatch, errorCodeGet, rps.ErrUnknownMatch)
		}
		return rps.Match{}, wrapStoreError(errorSubjectMatch, errorCodeGet, err)
	}
	return mapMatch(row), nil
}

func (store *Store) FindPending(ctx context.Context, hostID string) (rps.Match, bool, error) {
	var row Match
	err := store.db.WithContext(ctx).
		Where("host_id = ? AND status = ?", hostID, rps.StatusPending.String()).
		Order("created_at ASC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rps.Match{}, false, nil
		}
		return rps.Match{}, false, wrapStoreError(errorSubjectMatch, errorCodeGet, err)
	}
	return mapMatch(row), true, nil
}

func (store *Store) UpdatePendingStake(ctx context.Context, matchID string, stake rps.TokenAmount) error {
	result := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("match_id = ? AND status = ?", matchID, rps.StatusPending.String()).
		Update("stake_cents", stake.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectMatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMatch, errorCodeConflict, rps.ErrMatchNotAvailable)
	}
	return nil
}

func (store *Store) OpenWithChoice(ctx context.Context, matchID string, choice rps.Choice) error {
	result := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("match_id = ? AND status = ?", matchID, rps.StatusPending.String()).
		Updates(map[string]interface{}{
			"host_choice": choice.String(),
			"status":      rps.StatusOpen.String(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectMatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMatch, errorCodeConflict, rps.ErrMatchNotAvailable)
	}
	return nil
}

// ClaimMatch is the single conditional update that decides a join race:
// exactly one concurrent claim can flip the unclaimed open row.
func (store *Store) ClaimMatch(ctx context.Context, matchID string, clientID string, matchedUnixUTC int64) error {
	matchedAt := time.Unix(matchedUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("match_id = ? AND status = ? AND client_id = ''", matchID, rps.StatusOpen.String()).
		Updates(map[string]interface{}{
			"client_id":  clientID,
			"status":     rps.StatusMatched.String(),
			"matched_at": matchedAt,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectMatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMatch, errorCodeConflict, rps.ErrMatchNotAvailable)
	}
	return nil
}

func (store *Store) RecordClientChoice(ctx context.Context, matchID string, clientID string, choice rps.Choice) error {
	result := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("match_id = ? AND status = ? AND client_id = ?", matchID, rps.StatusMatched.String(), clientID).
		Update("client_choice", choice.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectMatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMatch, errorCodeConflict, rps.ErrMatchNotAvailable)
	}
	return nil
}

// ResolveMatch flips Matched to Resolved. The conditional update is the
// at-most-once settlement guard; a zero row count means somebody else won.
func (store *Store) ResolveMatch(ctx context.Context, matchID string, winnerID string) error {
	result := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("match_id = ? AND status = ?", matchID, rps.StatusMatched.String()).
		Updates(map[string]interface{}{
			"status":    rps.StatusResolved.String(),
			"winner_id": winnerID,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectMatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		current, err := store.GetMatch(ctx, matchID)
		if err != nil {
			return err
		}
		if current.Status == rps.StatusResolved {
			return wrapStoreError(errorSubjectMatch, errorCodeConflict, rps.ErrAlreadyResolved)
		}
		return wrapStoreError(errorSubjectMatch, errorCodeConflict, rps.ErrMatchNotAvailable)
	}
	return nil
}

func (store *Store) CancelMatch(ctx context.Context, matchID string, hostID string) error {
	result := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("match_id = ? AND host_id = ? AND status = ? AND client_id = ''", matchID, hostID, rps.StatusOpen.String()).
		Update("status", rps.StatusCancelled.String())
	if result.Error != nil {
		return wrapStoreError(errorSubjectMatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectMatch, errorCodeConflict, rps.ErrMatchNotAvailable)
	}
	return nil
}

func (store *Store) ListOpen(ctx context.Context, excludeHostID string, limit int) ([]rps.Match, error) {
	var rows []Match
	err := store.db.WithContext(ctx).
		Where("status = ? AND client_id = '' AND host_id <> ?", rps.StatusOpen.String(), excludeHostID).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMatch, errorCodeList, err)
	}
	return mapMatches(rows), nil
}

func (store *Store) ListHistory(ctx context.Context, userID string, limit int) ([]rps.Match, error) {
	var rows []Match
	err := store.db.WithContext(ctx).
		Where("client_id <> '' AND (host_id = ? OR client_id = ?)", userID, userID).
		Order("matched_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectMatch, errorCodeList, err)
	}
	return mapMatches(rows), nil
}

func (store *Store) CountOpen(ctx context.Context) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("status = ? AND client_id = ''", rps.StatusOpen.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectMatch, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) CountOpenHosted(ctx context.Context, hostID string) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Match{}).
		Where("status = ? AND client_id = '' AND host_id = ?", rps.StatusOpen.String(), hostID).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectMatch, errorCodeCount, err)
	}
	return count, nil
}

func (store *Store) Balance(ctx context.Context, userID string) (rps.TokenAmount, error) {
	player, err := store.playerRow(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rps.TokenAmount(player.BalanceCents), nil
}

// Debit subtracts a stake in a single conditional update. The balance check
// lives in the WHERE clause so concurrent debits cannot overdraw.
func (store *Store) Debit(ctx context.Context, userID string, amount rps.TokenAmount) error {
	result := store.db.WithContext(ctx).
		Model(&Player{}).
		Where("user_id = ? AND balance_cents >= ?", userID, amount.Int64()).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents - ?", amount.Int64()))
	if result.Error != nil {
		if isBalanceConstraintViolation(result.Error) {
			return wrapStoreError(errorSubjectBalance, errorCodeDebit, rps.ErrInsufficientBalance)
		}
		return wrapStoreError(errorSubjectBalance, errorCodeDebit, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.playerRow(ctx, userID); err != nil {
			return err
		}
		return wrapStoreError(errorSubjectBalance, errorCodeDebit, rps.ErrInsufficientBalance)
	}
	return nil
}

func (store *Store) Credit(ctx context.Context, userID string, amount rps.TokenAmount) error {
	result := store.db.WithContext(ctx).
		Model(&Player{}).
		Where("user_id = ?", userID).
		UpdateColumn("balance_cents", gorm.Expr("balance_cents + ?", amount.Int64()))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBalance, errorCodeCredit, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectPlayer, errorCodeGet, rps.ErrUnknownPlayer)
	}
	return nil
}

func (store *Store) GetPlayer(ctx context.Context, userID string) (rps.Player, error) {
	row, err := store.playerRow(ctx, userID)
	if err != nil {
		return rps.Player{}, err
	}
	settings, err := decodeSettings(row.Settings)
	if err != nil {
		return rps.Player{}, wrapStoreError(errorSubjectPlayer, errorCodeSettings, err)
	}
	return rps.Player{
		UserID:         row.UserID,
		DisplayName:    row.DisplayName,
		BalanceCents:   rps.TokenAmount(row.BalanceCents),
		TelegramChatID: row.TelegramChatID,
		NotifyGames:    settings[rps.EntitlementGameNotifications] == "on",
	}, nil
}

func (store *Store) Entitlement(ctx context.Context, userID string, key string) (string, bool, error) {
	row, err := store.playerRow(ctx, userID)
	if err != nil {
		return "", false, err
	}
	settings, err := decodeSettings(row.Settings)
	if err != nil {
		return "", false, wrapStoreError(errorSubjectPlayer, errorCodeSettings, err)
	}
	value, found := settings[key]
	return value, found, nil
}

func (store *Store) playerRow(ctx context.Context, userID string) (Player, error) {
	var row Player
	err := store.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Player{}, wrapStoreError(errorSubjectPlayer, errorCodeGet, rps.ErrUnknownPlayer)
		}
		return Player{}, wrapStoreError(errorSubjectPlayer, errorCodeGet, err)
	}
	return row, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return rps.WrapError(errorOperationStore, subject, code, err)
}

func mapMatch(row Match) rps.Match {
	var matchedUnixUTC int64
	if row.MatchedAt != nil {
		matchedUnixUTC = row.MatchedAt.Unix()
	}
	return rps.Match{
		MatchID:        row.MatchID,
		HostID:         row.HostID,
		ClientID:       row.ClientID,
		HostChoice:     rps.Choice(row.HostChoice),
		ClientChoice:   rps.Choice(row.ClientChoice),
		StakeCents:     rps.TokenAmount(row.StakeCents),
		Status:         rps.MatchStatus(row.Status),
		AutoMatch:      row.AutoMatch,
		WinnerID:       row.WinnerID,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		MatchedUnixUTC: matchedUnixUTC,
	}
}

func mapMatches(rows []Match) []rps.Match {
	matches := make([]rps.Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, mapMatch(row))
	}
	return matches
}

func decodeSettings(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return map[string]string{}, nil
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	settings := make(map[string]string, len(decoded))
	for key, value := range decoded {
		switch typed := value.(type) {
		case string:
			settings[key] = typed
		case float64:
			settings[key] = fmt.Sprintf("%d", int64(typed))
		case bool:
			settings[key] = fmt.Sprintf("%t", typed)
		}
	}
	return settings, nil
}

func unixOrNow(unixUTC int64) time.Time {
	if unixUTC == 0 {
		return time.Now().UTC()
	}
	return time.Unix(unixUTC, 0).UTC()
}

func isBalanceConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgCheckViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
