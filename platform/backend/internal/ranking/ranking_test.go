package ranking

import (
	"testing"

	"gorm.io/gorm"

	"pong-platform/backend/internal/store"
)

func setupTestStore(t *testing.T) store.Store {
	s, err := store.New(store.Config{Driver: "sqlite", SQLitePath: "file:" + t.Name() + "?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	return s
}

func TestApplyResultIsZeroSum(t *testing.T) {
	st := setupTestStore(t)
	if _, err := st.CreateUserIfMissing(1, "winner", false); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateUserIfMissing(2, "loser", false); err != nil {
		t.Fatal(err)
	}

	before1, _ := st.GetUser(1)
	before2, _ := st.GetUser(2)
	sumBefore := before1.Score + before2.Score

	svc := NewService(st, nil)
	err := st.WithTransaction(func(tx *gorm.DB) error {
		return svc.ApplyResult(tx, Result{WinnerID: 1, LoserID: 2, GameID: 100})
	})
	if err != nil {
		t.Fatal(err)
	}

	after1, _ := st.GetUser(1)
	after2, _ := st.GetUser(2)
	sumAfter := after1.Score + after2.Score

	if sumAfter != sumBefore {
		t.Errorf("expected ELO update to be zero-sum: before %d, after %d", sumBefore, sumAfter)
	}
	if after1.Score <= before1.Score {
		t.Errorf("expected winner score to increase, got %d -> %d", before1.Score, after1.Score)
	}
	if after1.GamesWon != 1 || after2.GamesLost != 1 {
		t.Errorf("expected win/loss counters to be bumped, got winner=%+v loser=%+v", after1, after2)
	}
}

func TestApplyResultExcludesAIFromELO(t *testing.T) {
	st := setupTestStore(t)
	if _, err := st.CreateUserIfMissing(1, "human", false); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateUserIfMissing(2, "ai", true); err != nil {
		t.Fatal(err)
	}

	svc := NewService(st, nil)
	err := st.WithTransaction(func(tx *gorm.DB) error {
		return svc.ApplyResult(tx, Result{WinnerID: 1, LoserID: 2, LoserIsAI: true, GameID: 101})
	})
	if err != nil {
		t.Fatal(err)
	}

	winner, _ := st.GetUser(1)
	if winner.Score != 1200 {
		t.Errorf("expected ELO to be untouched when the loser is the AI user, got score %d", winner.Score)
	}
	if winner.GamesWon != 1 {
		t.Errorf("expected win counter still bumped for an AI game, got %+v", winner)
	}
}

func TestRecomputeRanksOrdersByScoreAndSkipsUnplayed(t *testing.T) {
	st := setupTestStore(t)
	if _, err := st.CreateUserIfMissing(1, "top", false); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateUserIfMissing(2, "never-played", false); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateUserIfMissing(3, "second", false); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateUser(1, map[string]interface{}{"games_played": 1, "score": 1300}); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateUser(3, map[string]interface{}{"games_played": 1, "score": 1250}); err != nil {
		t.Fatal(err)
	}

	svc := NewService(st, nil)
	if err := svc.RecomputeRanks(); err != nil {
		t.Fatal(err)
	}

	top, _ := st.GetUser(1)
	if top.Rank != 1 {
		t.Errorf("expected rank 1 for the highest-scored ranked user, got %d", top.Rank)
	}
	second, _ := st.GetUser(3)
	if second.Rank != 2 {
		t.Errorf("expected rank 2 for the lower-scored ranked user, got %d", second.Rank)
	}
	unplayed, _ := st.GetUser(2)
	if unplayed.Rank != 0 {
		t.Errorf("expected the never-played user to stay unranked, got %d", unplayed.Rank)
	}
}

func TestLeaderboardExcludesAIEvenWithGamesPlayed(t *testing.T) {
	st := setupTestStore(t)
	if _, err := st.CreateUserIfMissing(1, "human", false); err != nil {
		t.Fatal(err)
	}
	if _, err := st.CreateUserIfMissing(2, "ai", true); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateUser(1, map[string]interface{}{"games_played": 1}); err != nil {
		t.Fatal(err)
	}
	// bumpStatsOnly increments the AI's games_played on every AI game,
	// so games_played > 0 alone must not be enough to rank it (§4.5).
	if err := st.UpdateUser(2, map[string]interface{}{"games_played": 5}); err != nil {
		t.Fatal(err)
	}

	board, err := st.Leaderboard(0)
	if err != nil {
		t.Fatal(err)
	}
	for _, u := range board {
		if u.IsAI {
			t.Errorf("expected AI user to be excluded from the leaderboard, found %+v", u)
		}
	}

	svc := NewService(st, nil)
	if err := svc.RecomputeRanks(); err != nil {
		t.Fatal(err)
	}
	ai, _ := st.GetUser(2)
	if ai.Rank != 0 {
		t.Errorf("expected AI user to never receive a rank, got %d", ai.Rank)
	}
}
