package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Player mirrors the players table. Balances live here; the settings JSON
// carries per-player entitlements owned by the wider platform.
type Player struct {
	UserID         string         `gorm:"primaryKey"`
	DisplayName    string         `gorm:"not null"`
	BalanceCents   int64          `gorm:"not null;default:0;check:balance_cents >= 0"`
	TelegramChatID string         `gorm:"not null;default:''"`
	Settings       datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time      `gorm:"not null"`
	UpdatedAt      time.Time      `gorm:"not null"`
}

func (Player) TableName() string { return "players" }

// Match mirrors the game_matches table.
type Match struct {
	MatchID      string     `gorm:"type:uuid;primaryKey"`
	HostID       string     `gorm:"not null;index:idx_matches_host_status,priority:1"`
	ClientID     string     `gorm:"not null;default:'';index"`
	HostChoice   string     `gorm:"not null;default:''"`
	ClientChoice string     `gorm:"not null;default:''"`
	StakeCents   int64      `gorm:"not null"`
	Status       string     `gorm:"not null;index:idx_matches_host_status,priority:2"`
	AutoMatch    bool       `gorm:"not null;default:true"`
	WinnerID     string     `gorm:"not null;default:''"`
	CreatedAt    time.Time  `gorm:"not null"`
	MatchedAt    *time.Time `gorm:"index"`
}

func (Match) TableName() string { return "game_matches" }

func (match *Match) BeforeCreate(tx *gorm.DB) error {
	if match.MatchID == "" {
		match.MatchID = uuid.NewString()
	}
	return nil
}
