package store

import "time"

// User is the durable ranked-identity record (§3 "User (external identity)").
// The core reads it on demand and writes it after each ranked game; it is
// never consulted on the hot simulation path. Tagged for GORM per the
// teacher's internal/models/models.go shape.
type User struct {
	ID          int64     `gorm:"primaryKey"`
	Name        string    `gorm:"size:64"`
	Avatar      string    `gorm:"size:256"`
	Score       int       `gorm:"default:1200"`
	Rank        int       `gorm:"default:0"`
	GamesPlayed int
	GamesWon    int
	GamesLost   int
	PlayTime    int64 // seconds
	GameHistory string `gorm:"type:text"` // JSON array of integers (game ids)
	IsAI        bool   `gorm:"default:false"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WinRate is derived, not stored.
func (u User) WinRate() float64 {
	if u.GamesPlayed == 0 {
		return 0
	}
	return float64(u.GamesWon) / float64(u.GamesPlayed)
}

// Game is the durable record of one finished Room (§6 persisted layout:
// RoomId is the same integer used as Game.id).
type Game struct {
	ID           int64 `gorm:"primaryKey"` // == RoomId
	Mode         string
	P1ID         int64
	P2ID         int64
	P1Score      int
	P2Score      int
	WinnerID     int64
	Forfeit      bool
	TournamentID *string `gorm:"size:64;index"`
	Round        int
	MatchID      *string `gorm:"size:64"`
	DurationSec  int
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// Tournament mirrors §3's Tournament record.
type Tournament struct {
	ID          string `gorm:"primaryKey;size:64"`
	Name        string `gorm:"size:128"`
	CreatorID   int64
	MaxPlayers  int
	TotalRounds int
	BracketType string `gorm:"size:32"`
	Status      string `gorm:"size:32;index"`
	CurrentRound int
	WinnerID    *int64
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// TournamentPlayer is one registrant/seed of a Tournament.
type TournamentPlayer struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	TournamentID string `gorm:"size:64;index"`
	UserID       int64
	Seed         int
	JoinedAt     time.Time
}

// TournamentMatch mirrors §3's Match record; MatchID is
// "T{t}-R{r}-M{n}" per spec.
type TournamentMatch struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	MatchID      string `gorm:"size:64;uniqueIndex"`
	TournamentID string `gorm:"size:64;index"`
	Round        int
	MatchNumber  int
	P1ID         *int64
	P2ID         *int64
	WinnerID     *int64
	GameID       *int64
	Status       string `gorm:"size:32"`
}

// UserRelationship stores one directed friend/block edge, serialized
// externally as JSON arrays of integers per §6; kept here only as the
// opaque durable shape the Store owns (no core logic reads these).
type UserRelationship struct {
	ID       int64 `gorm:"primaryKey;autoIncrement"`
	UserID   int64 `gorm:"index"`
	OtherID  int64
	Kind     string `gorm:"size:16"` // "friend" | "block"
	CreatedAt time.Time
}

// AllModels lists every table for AutoMigrate, grounded on the teacher's
// migrations approach (internal/migrations) collapsed to gorm.AutoMigrate
// since this domain's schema is far smaller than the poker platform's.
func AllModels() []interface{} {
	return []interface{}{
		&User{}, &Game{}, &Tournament{}, &TournamentPlayer{},
		&TournamentMatch{}, &UserRelationship{},
	}
}
