package models

import "time"

// Mode is the kind of Room being played.
type Mode string

const (
	ModePublic     Mode = "PUBLIC"
	ModePrivate    Mode = "PRIVATE"
	ModeLocal      Mode = "LOCAL"
	ModeAI         Mode = "AI"
	ModeTournament Mode = "TOURNAMENT"
)

// Status is a Room's lifecycle state.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusStarting   Status = "STARTING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
	StatusCancelled  Status = "CANCELLED"
)

// Direction is a paddle's current movement intent.
type Direction int

const (
	DirectionNone Direction = 0
	DirectionUp   Direction = 1
	DirectionDown Direction = 2
)

// Side identifies which paddle a player occupies.
type Side int

const (
	SideLeft  Side = 1
	SideRight Side = 2
)

// TournamentLink carries the tournament linkage for a Room created on
// behalf of a bracket match.
type TournamentLink struct {
	TournamentID string `json:"tournamentId"`
	Round        int    `json:"round"`
	MatchID      string `json:"matchId"`
}

// Slot is one side of a Room: a userId and its connection-tracking state.
type Slot struct {
	UserID          int64      `json:"userId"`
	Score           int        `json:"score"`
	PaddleY         float64    `json:"paddleY"`
	PrevPaddleY     float64    `json:"prevPaddleY"`
	Direction       Direction  `json:"direction"`
	Disconnected    bool       `json:"disconnected"`
	DisconnectedAt  *time.Time `json:"disconnectedAt,omitempty"`
}

// Room is one authoritative Pong game instance. Field access outside of
// the engine package must go through Room's actor methods (see engine.Room).
type Room struct {
	RoomID int64 `json:"roomId"`
	Mode   Mode  `json:"mode"`
	Status Status `json:"status"`

	Tournament *TournamentLink `json:"tournament,omitempty"`

	P1 *Slot `json:"p1"`
	P2 *Slot `json:"p2"`

	BallX, BallY   float64
	BallVX, BallVY float64
	Speed          float64
	PrevBallX      float64

	CreatedAt time.Time
	StartedAt *time.Time

	// Difficulty is only meaningful for ModeAI rooms.
	Difficulty string

	// AISide is which Slot (SideLeft/SideRight) the AI occupies, for ModeAI rooms.
	AISide Side

	// Spectators is the set of userIds observing this room's channel.
	Spectators map[int64]bool
}

// GameState is the wire snapshot pushed to clients and spectators.
type GameState struct {
	GameID      int64   `json:"gameId"`
	P1Score     int     `json:"p1Score"`
	P2Score     int     `json:"p2Score"`
	PaddleLeft  float64 `json:"paddleLeft"`
	PaddleRight float64 `json:"paddleRight"`
	BallX       float64 `json:"ballX"`
	BallY       float64 `json:"ballY"`
	Status      Status  `json:"status"`
}

// EndResult summarizes how a Room's game concluded, for the end-of-game
// sequence (§4.3) to hand to Ranking/Tournament/Store.
type EndResult struct {
	RoomID      int64
	Mode        Mode
	Tournament  *TournamentLink
	P1ID        int64
	P2ID        int64
	P1Score     int
	P2Score     int
	WinnerID    int64
	LoserID     int64
	WinnerScore int
	LoserScore  int
	Forfeit     bool
}
