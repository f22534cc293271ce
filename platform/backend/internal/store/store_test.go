package store

import (
	"testing"

	"gorm.io/gorm"
)

func setupTestStore(t *testing.T) Store {
	s, err := New(Config{Driver: "sqlite", SQLitePath: "file:" + t.Name() + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return s
}

func TestCreateUserIfMissingIsIdempotent(t *testing.T) {
	s := setupTestStore(t)

	u1, err := s.CreateUserIfMissing(1, "alice", false)
	if err != nil {
		t.Fatal(err)
	}
	if u1.Score != 1200 {
		t.Errorf("expected initial score 1200, got %d", u1.Score)
	}

	u2, err := s.CreateUserIfMissing(1, "alice-again", false)
	if err != nil {
		t.Fatal(err)
	}
	if u2.Name != "alice" {
		t.Errorf("expected CreateUserIfMissing to be a no-op on existing user, got name %q", u2.Name)
	}
}

func TestRecordGameResultIsAtomicWithApply(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.CreateUserIfMissing(1, "a", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateUserIfMissing(2, "b", false); err != nil {
		t.Fatal(err)
	}

	game := &Game{ID: 100, Mode: "PUBLIC", P1ID: 1, P2ID: 2, P1Score: 11, P2Score: 3, WinnerID: 1}
	err := s.RecordGameResult(game, func(tx *gorm.DB) error {
		winner, err := LockUserForUpdate(tx, 1)
		if err != nil {
			return err
		}
		winner.GamesPlayed++
		winner.GamesWon++
		return SaveUserTx(tx, winner)
	})
	if err != nil {
		t.Fatal(err)
	}

	saved, err := s.FindGame(100)
	if err != nil {
		t.Fatal(err)
	}
	if saved.WinnerID != 1 {
		t.Errorf("expected persisted game winner 1, got %d", saved.WinnerID)
	}

	winner, err := s.GetUser(1)
	if err != nil {
		t.Fatal(err)
	}
	if winner.GamesPlayed != 1 || winner.GamesWon != 1 {
		t.Errorf("expected winner stats to be updated atomically with game save, got %+v", winner)
	}
}

func TestLeaderboardExcludesUnplayedUsers(t *testing.T) {
	s := setupTestStore(t)
	if _, err := s.CreateUserIfMissing(1, "never-played", false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreateUserIfMissing(2, "played", false); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateUser(2, map[string]interface{}{"games_played": 1, "score": 1232}); err != nil {
		t.Fatal(err)
	}

	board, err := s.Leaderboard(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(board) != 1 || board[0].ID != 2 {
		t.Errorf("expected leaderboard to contain only users with gamesPlayed > 0, got %+v", board)
	}
}

func TestQueryTournamentsFiltersByStatus(t *testing.T) {
	s := setupTestStore(t)
	if err := s.CreateTournament(&Tournament{ID: "t1", Status: "REGISTRATION"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTournament(&Tournament{ID: "t2", Status: "FINISHED"}); err != nil {
		t.Fatal(err)
	}

	active, err := s.QueryTournaments("REGISTRATION", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != "t1" {
		t.Errorf("expected only the REGISTRATION tournament, got %+v", active)
	}
}
