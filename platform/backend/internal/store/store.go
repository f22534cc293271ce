package store

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound       = errors.New("USER_NOT_FOUND")
	ErrGameNotFound       = errors.New("GAME_NOT_FOUND")
	ErrTournamentNotFound = errors.New("TOURNAMENT_NOT_FOUND")
)

// Config configures the backing SQL database. Driver selects mysql (prod)
// or sqlite (tests/local), mirroring the teacher's dual go.mod drivers.
type Config struct {
	Driver   string // "mysql" | "sqlite"
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	// SQLitePath is used only when Driver == "sqlite" (an in-memory
	// "file:...?mode=memory" URI in tests).
	SQLitePath string
}

// Store is the opaque persistence abstraction named in §6. Outside this
// package *gorm.DB appears only as the transaction handle passed through
// RecordGameResult and WithTransaction.
type Store interface {
	GetUser(id int64) (*User, error)
	UpdateUser(id int64, patch map[string]interface{}) error
	CreateUserIfMissing(id int64, name string, isAI bool) (*User, error)

	CreateGame(g *Game) error
	UpdateGame(id int64, patch map[string]interface{}) error
	FindGame(id int64) (*Game, error)

	CreateTournament(t *Tournament) error
	UpdateTournament(id string, patch map[string]interface{}) error
	GetTournament(id string) (*Tournament, error)
	QueryTournaments(status string, limit, offset int) ([]Tournament, error)

	CreateTournamentPlayer(p *TournamentPlayer) error
	ListTournamentPlayers(tournamentID string) ([]TournamentPlayer, error)
	ListTournamentsForUser(userID int64) ([]Tournament, error)
	SetTournamentPlayerSeed(tournamentID string, userID int64, seed int) error
	CreateTournamentMatch(m *TournamentMatch) error
	UpdateTournamentMatch(matchID string, patch map[string]interface{}) error
	ListTournamentMatches(tournamentID string, round int) ([]TournamentMatch, error)
	FindTournamentMatchByGame(gameID int64) (*TournamentMatch, error)

	// RecordGameResult performs the end-of-game persistence + ELO update
	// atomically (§4.3 step (e), §5 "writes for one game's end sequence
	// must be visible before the next tournament match is scheduled").
	RecordGameResult(game *Game, apply func(tx *gorm.DB) error) error

	// Leaderboard returns users ordered by descending score, rank = 1-based
	// index, restricted to users who have actually played (§9's corrected
	// "updateRanks" semantics: gamesPlayed > 0, not score != 1200).
	Leaderboard(limit int) ([]User, error)

	// WithTransaction exposes a transaction boundary for Ranking's
	// row-locked ELO update (§4.5's zero-sum invariant).
	WithTransaction(fn func(tx *gorm.DB) error) error
}

type gormStore struct {
	db *gorm.DB
}

// New opens the database and runs AutoMigrate, mirroring the teacher's
// db.New/gorm.Open-in-tests pattern (internal/currency/service_test.go).
func New(cfg Config) (Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "file::memory:?mode=memory"
		}
		dialector = sqlite.Open(path)
	default:
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName)
		dialector = mysql.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &gormStore{db: db}, nil
}

func (s *gormStore) GetUser(id int64) (*User, error) {
	var u User
	if err := s.db.First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) CreateUserIfMissing(id int64, name string, isAI bool) (*User, error) {
	var u User
	err := s.db.First(&u, "id = ?", id).Error
	if err == nil {
		return &u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	u = User{ID: id, Name: name, Score: 1200, IsAI: isAI, CreatedAt: time.Now()}
	if err := s.db.Create(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) UpdateUser(id int64, patch map[string]interface{}) error {
	return s.db.Model(&User{}).Where("id = ?", id).Updates(patch).Error
}

func (s *gormStore) CreateGame(g *Game) error {
	return s.db.Create(g).Error
}

func (s *gormStore) UpdateGame(id int64, patch map[string]interface{}) error {
	return s.db.Model(&Game{}).Where("id = ?", id).Updates(patch).Error
}

func (s *gormStore) FindGame(id int64) (*Game, error) {
	var g Game
	if err := s.db.First(&g, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (s *gormStore) CreateTournament(t *Tournament) error {
	return s.db.Create(t).Error
}

func (s *gormStore) UpdateTournament(id string, patch map[string]interface{}) error {
	return s.db.Model(&Tournament{}).Where("id = ?", id).Updates(patch).Error
}

func (s *gormStore) GetTournament(id string) (*Tournament, error) {
	var t Tournament
	if err := s.db.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (s *gormStore) QueryTournaments(status string, limit, offset int) ([]Tournament, error) {
	query := s.db.Model(&Tournament{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var tournaments []Tournament
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&tournaments).Error; err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (s *gormStore) CreateTournamentPlayer(p *TournamentPlayer) error {
	return s.db.Create(p).Error
}

func (s *gormStore) ListTournamentPlayers(tournamentID string) ([]TournamentPlayer, error) {
	var players []TournamentPlayer
	if err := s.db.Where("tournament_id = ?", tournamentID).Order("seed ASC").Find(&players).Error; err != nil {
		return nil, err
	}
	return players, nil
}

// SetTournamentPlayerSeed persists the post-shuffle seed assigned at
// tournament start, so ListTournamentPlayers' "seed ASC" ordering (used to
// redisplay the bracket) reflects the actual draw instead of every row's
// zero value.
func (s *gormStore) SetTournamentPlayerSeed(tournamentID string, userID int64, seed int) error {
	return s.db.Model(&TournamentPlayer{}).
		Where("tournament_id = ? AND user_id = ?", tournamentID, userID).
		Update("seed", seed).Error
}

func (s *gormStore) ListTournamentsForUser(userID int64) ([]Tournament, error) {
	var tournaments []Tournament
	err := s.db.Joins("JOIN tournament_players ON tournament_players.tournament_id = tournaments.id").
		Where("tournament_players.user_id = ?", userID).
		Order("tournaments.created_at DESC").
		Find(&tournaments).Error
	if err != nil {
		return nil, err
	}
	return tournaments, nil
}

func (s *gormStore) CreateTournamentMatch(m *TournamentMatch) error {
	return s.db.Create(m).Error
}

func (s *gormStore) UpdateTournamentMatch(matchID string, patch map[string]interface{}) error {
	return s.db.Model(&TournamentMatch{}).Where("match_id = ?", matchID).Updates(patch).Error
}

func (s *gormStore) ListTournamentMatches(tournamentID string, round int) ([]TournamentMatch, error) {
	q := s.db.Where("tournament_id = ?", tournamentID)
	if round > 0 {
		q = q.Where("round = ?", round)
	}
	var matches []TournamentMatch
	if err := q.Order("match_number ASC").Find(&matches).Error; err != nil {
		return nil, err
	}
	return matches, nil
}

func (s *gormStore) FindTournamentMatchByGame(gameID int64) (*TournamentMatch, error) {
	var m TournamentMatch
	if err := s.db.Where("game_id = ?", gameID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGameNotFound
		}
		return nil, err
	}
	return &m, nil
}

// RecordGameResult wraps game persistence and the caller's ELO update in
// one transaction, adapted from currency/service.go's
// deductChipsInTx-inside-Transaction pattern, using row locks to keep the
// ELO zero-sum invariant safe under concurrent end-of-game sequences.
func (s *gormStore) RecordGameResult(game *Game, apply func(tx *gorm.DB) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(game).Error; err != nil {
			return fmt.Errorf("failed to save game: %w", err)
		}
		if apply == nil {
			return nil
		}
		return apply(tx)
	})
}

func (s *gormStore) Leaderboard(limit int) ([]User, error) {
	var users []User
	q := s.db.Where("games_played > 0 AND is_ai = ?", false).Order("score DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// LockUserForUpdate is exposed for Ranking's ELO update, which must read
// both users' current scores under a row lock before computing deltas.
func LockUserForUpdate(tx *gorm.DB, id int64) (*User, error) {
	var u User
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&u, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// WithTransaction exposes a transaction boundary to callers outside this
// package (Ranking) that need to combine a Store write with their own
// row-locked reads in one atomic unit.
func (s *gormStore) WithTransaction(fn func(tx *gorm.DB) error) error {
	return s.db.Transaction(fn)
}

// SaveUserTx persists a User within an existing transaction, for use
// after LockUserForUpdate + an in-memory ELO/stat update.
func SaveUserTx(tx *gorm.DB, u *User) error {
	return tx.Save(u).Error
}
