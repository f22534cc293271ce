package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"

	"gorm.io/gorm"

	"pong-platform/backend/internal/redisx"
	"pong-platform/backend/internal/store"
)

// K is the ELO K-factor (§4.5).
const K = 32.0

// LeaderboardCacheKey is the Redis sorted-set backing fast leaderboard
// reads, adapted from the teacher's currency-ledger-cache idea of keeping
// a hot read path off the primary database.
const LeaderboardCacheKey = "ranking:leaderboard"

// Result is one ranked game's outcome, as reported by Lifecycle after
// Room.finishLocked hands back an EndResult (§4.3 step e).
type Result struct {
	WinnerID    int64
	LoserID     int64
	WinnerIsAI  bool
	LoserIsAI   bool
	PlayDurSecs int64
	GameID      int64
	// Round/TotalRounds are 0 for non-tournament games; when set, the ELO
	// delta is scaled per §4.5's "finals heaviest" multiplier.
	Round       int
	TotalRounds int
}

// Service applies ELO updates and keeps the leaderboard rank + cache
// current. Grounded on currency/service.go's atomic balance-update style:
// row-locked reads inside a Store transaction, rather than a separate
// "ranking table" abstraction.
type Service struct {
	store store.Store
	cache *redisx.Client // optional; nil disables the cache layer
}

func NewService(st store.Store, cache *redisx.Client) *Service {
	return &Service{store: st, cache: cache}
}

// expectedScore is ELO's logistic win probability for the player rated ra
// against a player rated rb.
func expectedScore(ra, rb int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(rb-ra)/400.0))
}

// roundMultiplier implements the tournament-heavier-rounds rule: "1 +
// (round/totalRounds)*0.5" (finals heaviest). Non-tournament games pass
// round=0/totalRounds=0 and get a multiplier of 1.
func roundMultiplier(round, totalRounds int) float64 {
	if round <= 0 || totalRounds <= 0 {
		return 1.0
	}
	return 1.0 + (float64(round)/float64(totalRounds))*0.5
}

// ApplyResult performs the end-of-game ELO update and per-user stat bump
// atomically within the game-result transaction (§4.3 step e, §5's
// visibility-before-next-match requirement). It does not recompute
// leaderboard ranks; callers run RecomputeRanks after the transaction
// commits. AI-vs-AI and AI-vs-human games never move ELO (§3's "AI games do
// not affect ELO" contract, resolving the codebase's documented
// inconsistency per the Open Question).
func (s *Service) ApplyResult(tx *gorm.DB, r Result) error {
	if r.WinnerIsAI || r.LoserIsAI {
		return s.bumpStatsOnly(tx, r)
	}

	winner, err := store.LockUserForUpdate(tx, r.WinnerID)
	if err != nil {
		return fmt.Errorf("lock winner: %w", err)
	}
	loser, err := store.LockUserForUpdate(tx, r.LoserID)
	if err != nil {
		return fmt.Errorf("lock loser: %w", err)
	}

	ew := expectedScore(winner.Score, loser.Score)
	el := 1 - ew
	mult := roundMultiplier(r.Round, r.TotalRounds)

	winnerDelta := int(math.Floor(K * mult * (1 - ew)))
	loserDelta := int(math.Floor(K * mult * el))

	winner.Score += winnerDelta
	loser.Score -= loserDelta

	s.bumpWinner(winner, r)
	s.bumpLoser(loser, r)

	if err := store.SaveUserTx(tx, winner); err != nil {
		return fmt.Errorf("save winner: %w", err)
	}
	if err := store.SaveUserTx(tx, loser); err != nil {
		return fmt.Errorf("save loser: %w", err)
	}

	return nil
}

// bumpStatsOnly updates games-played/won/lost/history without touching
// ELO, used when either side of the match is the AI user.
func (s *Service) bumpStatsOnly(tx *gorm.DB, r Result) error {
	winner, err := store.LockUserForUpdate(tx, r.WinnerID)
	if err != nil {
		return fmt.Errorf("lock winner: %w", err)
	}
	loser, err := store.LockUserForUpdate(tx, r.LoserID)
	if err != nil {
		return fmt.Errorf("lock loser: %w", err)
	}

	s.bumpWinner(winner, r)
	s.bumpLoser(loser, r)

	if err := store.SaveUserTx(tx, winner); err != nil {
		return fmt.Errorf("save winner: %w", err)
	}
	if err := store.SaveUserTx(tx, loser); err != nil {
		return fmt.Errorf("save loser: %w", err)
	}
	return nil
}

func (s *Service) bumpWinner(u *store.User, r Result) {
	u.GamesPlayed++
	u.GamesWon++
	u.PlayTime += r.PlayDurSecs
	u.GameHistory = appendHistory(u.GameHistory, r.GameID)
}

func (s *Service) bumpLoser(u *store.User, r Result) {
	u.GamesPlayed++
	u.GamesLost++
	u.PlayTime += r.PlayDurSecs
	u.GameHistory = appendHistory(u.GameHistory, r.GameID)
}

func appendHistory(raw string, gameID int64) string {
	var ids []int64
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &ids)
	}
	ids = append(ids, gameID)
	out, err := json.Marshal(ids)
	if err != nil {
		return raw
	}
	return string(out)
}

// RecomputeRanks re-derives the 1-based rank field for every ranked user
// (gamesPlayed > 0; see §9's corrected updateRanks) and refreshes the
// Redis leaderboard cache. Run after ApplyResult commits.
func (s *Service) RecomputeRanks() error {
	users, err := s.store.Leaderboard(0)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	for i := range users {
		rank := i + 1
		if users[i].Rank == rank {
			continue
		}
		if err := s.store.UpdateUser(users[i].ID, map[string]interface{}{"rank": rank}); err != nil {
			return fmt.Errorf("update rank for user %d: %w", users[i].ID, err)
		}
	}

	s.refreshCache(users)
	return nil
}

// refreshCache mirrors the ranked list into a Redis ZSET for O(log n)
// leaderboard reads; failures here are logged, not propagated, since the
// SQL table remains the source of truth (§6).
func (s *Service) refreshCache(users []store.User) {
	if s.cache == nil {
		return
	}

	entries := make([]redisx.LeaderboardEntry, 0, len(users))
	for _, u := range users {
		if u.IsAI {
			continue
		}
		entries = append(entries, redisx.LeaderboardEntry{UserID: u.ID, Score: float64(u.Score)})
	}

	ctx := context.Background()
	if err := s.cache.ReplaceLeaderboard(ctx, LeaderboardCacheKey, entries); err != nil {
		log.Printf("[RANKING] failed refreshing leaderboard cache: %v", err)
	}
}
