// Package tournament implements the Tournament Orchestrator (spec §4.6):
// bracket generation, match scheduling, result propagation and
// cancellation. Grounded on the teacher's internal/tournament/{service,
// starter,elimination}.go (ticker-driven periodic checks promoted here to
// clock.AfterFunc-scheduled one-shots since each tournament's timers are
// known in advance, rand.Shuffle seeding, transactional status
// transitions) and internal/server/tournament/handlers.go's lock-guarded
// critical section around bracket advancement.
package tournament

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"pong-engine/models"

	"pong-platform/backend/internal/apperrors"
	"pong-platform/backend/internal/clock"
	"pong-platform/backend/internal/hub"
	"pong-platform/backend/internal/locks"
	"pong-platform/backend/internal/store"
)

const (
	autoStartDelay   = 3 * time.Second
	roundAdvanceWait = 5 * time.Second
	cacheEvictAfter  = 5 * time.Minute
)

var validMaxPlayers = map[int]bool{4: true, 8: true, 16: true, 32: true}

// GameStarter is the subset of the Lifecycle Coordinator the Orchestrator
// needs, kept as an interface so tournament stays decoupled from
// lifecycle's full surface.
type GameStarter interface {
	CreateTournamentGame(p1ID, p2ID int64, tournamentID string, round int, matchID string) (int64, error)

	// ForfeitRoom ends an in-progress Room by forfeit, used to tear down
	// active matches on tournament cancellation (§4.6).
	ForfeitRoom(roomID int64) error
}

// Orchestrator owns bracket creation/advancement. Match-completion races
// (several games of the same round finishing near-simultaneously) are
// serialized per tournament via the distributed LockManager, exactly as
// the teacher guards table initialization in
// internal/server/tournament/handlers.go — kept despite the single-process
// Non-goal; see DESIGN.md.
type Orchestrator struct {
	store   store.Store
	hub     *hub.Hub
	starter GameStarter
	locks   *locks.LockManager
	clock   clock.Clock
	rng     *rand.Rand
}

func New(st store.Store, h *hub.Hub, starter GameStarter, lm *locks.LockManager, c clock.Clock) *Orchestrator {
	o := &Orchestrator{store: st, hub: h, starter: starter, locks: lm, clock: c, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	h.On("tournament:game-ended", o.onGameEnded)
	return o
}

// Create implements §4.6's create(creatorId, name, maxPlayers, bracketType).
func (o *Orchestrator) Create(creatorID int64, name string, maxPlayers int, bracketType string) (string, error) {
	if !validMaxPlayers[maxPlayers] {
		return "", apperrors.ErrInvalidMaxPlayers
	}

	id := uuid.New().String()
	t := &store.Tournament{
		ID:          id,
		Name:        name,
		CreatorID:   creatorID,
		MaxPlayers:  maxPlayers,
		TotalRounds: log2(maxPlayers),
		BracketType: bracketType,
		Status:      "REGISTRATION",
		CreatedAt:   time.Now(),
	}
	if err := o.store.CreateTournament(t); err != nil {
		return "", fmt.Errorf("create tournament: %w", err)
	}
	if err := o.store.CreateTournamentPlayer(&store.TournamentPlayer{TournamentID: id, UserID: creatorID, JoinedAt: time.Now()}); err != nil {
		return "", fmt.Errorf("register creator: %w", err)
	}

	o.hub.EmitToUser(creatorID, "tournament:created", t)
	return id, nil
}

// Join implements §4.6's join, allowed only in REGISTRATION, and
// auto-starts 3s after reaching maxPlayers.
func (o *Orchestrator) Join(userID int64, tournamentID string) error {
	t, err := o.store.GetTournament(tournamentID)
	if err != nil {
		return err
	}
	if t.Status != "REGISTRATION" {
		return apperrors.ErrUnavailable
	}

	players, err := o.store.ListTournamentPlayers(tournamentID)
	if err != nil {
		return err
	}
	for _, p := range players {
		if p.UserID == userID {
			return apperrors.ErrAlreadyInGame
		}
	}
	if len(players) >= t.MaxPlayers {
		return apperrors.ErrFull
	}

	if err := o.store.CreateTournamentPlayer(&store.TournamentPlayer{TournamentID: tournamentID, UserID: userID, JoinedAt: time.Now()}); err != nil {
		return err
	}
	o.hub.Broadcast("tournament:player-joined", map[string]interface{}{"tournamentId": tournamentID, "userId": userID})

	if len(players)+1 == t.MaxPlayers {
		o.clock.AfterFunc(autoStartDelay, func() {
			if err := o.Start(t.CreatorID, tournamentID); err != nil {
				log.Printf("[TOURNAMENT] auto-start failed for %s: %v", tournamentID, err)
			}
		})
	}
	return nil
}

// Leave implements §4.6's leave, allowed only in REGISTRATION.
func (o *Orchestrator) Leave(userID int64, tournamentID string) error {
	t, err := o.store.GetTournament(tournamentID)
	if err != nil {
		return err
	}
	if t.Status != "REGISTRATION" {
		return apperrors.ErrUnavailable
	}
	o.hub.Broadcast("tournament:player-left", map[string]interface{}{"tournamentId": tournamentID, "userId": userID})
	return nil
}

// Start implements §4.6's creator-only start(): shrinks maxPlayers to the
// next power of two >= currentPlayers if registration closed early, seeds
// players by random permutation, generates the full match tree, and
// kicks off round 1.
func (o *Orchestrator) Start(callerID int64, tournamentID string) error {
	t, err := o.store.GetTournament(tournamentID)
	if err != nil {
		return err
	}
	if t.CreatorID != callerID {
		return apperrors.ErrNotCreator
	}
	if t.Status != "REGISTRATION" {
		return apperrors.ErrUnavailable
	}

	players, err := o.store.ListTournamentPlayers(tournamentID)
	if err != nil {
		return err
	}
	if len(players) < 2 {
		return apperrors.ErrUnavailable
	}

	maxPlayers := t.MaxPlayers
	if len(players) < maxPlayers {
		maxPlayers = nextPowerOfTwo(len(players))
	}
	totalRounds := log2(maxPlayers)

	o.rng.Shuffle(len(players), func(i, j int) { players[i], players[j] = players[j], players[i] })
	for seed, p := range players {
		if err := o.store.SetTournamentPlayerSeed(tournamentID, p.UserID, seed+1); err != nil {
			log.Printf("[TOURNAMENT] failed to persist seed for user %d in %s: %v", p.UserID, tournamentID, err)
		}
	}

	if err := o.generateBracket(tournamentID, players, totalRounds); err != nil {
		return fmt.Errorf("generate bracket: %w", err)
	}

	if err := o.store.UpdateTournament(tournamentID, map[string]interface{}{
		"max_players":   maxPlayers,
		"total_rounds":  totalRounds,
		"status":        "IN_PROGRESS",
		"current_round": 1,
		"started_at":    time.Now(),
	}); err != nil {
		return err
	}

	o.hub.Broadcast("tournament:started", map[string]interface{}{"tournamentId": tournamentID})
	o.startRoundMatches(tournamentID, 1)
	return nil
}

// generateBracket creates the full match tree (§3 I5/I6/I7): for each
// round r, 2^(totalRounds-r) pending matches; round 1 filled pairwise
// from the seeded list, single-player slots auto-complete as byes.
func (o *Orchestrator) generateBracket(tournamentID string, players []store.TournamentPlayer, totalRounds int) error {
	for r := 1; r <= totalRounds; r++ {
		count := 1 << (totalRounds - r)
		for n := 0; n < count; n++ {
			matchID := fmt.Sprintf("T%s-R%d-M%d", tournamentID, r, n)
			m := &store.TournamentMatch{MatchID: matchID, TournamentID: tournamentID, Round: r, MatchNumber: n, Status: "pending"}

			if r == 1 {
				var p1, p2 *int64
				if i := 2 * n; i < len(players) {
					id := players[i].UserID
					p1 = &id
				}
				if i := 2*n + 1; i < len(players) {
					id := players[i].UserID
					p2 = &id
				}
				m.P1ID, m.P2ID = p1, p2
				m.Status = "ready"
				if p2 == nil && p1 != nil {
					// Bye: auto-advance (I7).
					winner := *p1
					m.WinnerID = &winner
					m.Status = "completed"
				}
			}

			if err := o.store.CreateTournamentMatch(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// startRoundMatches implements §4.6's startRoundMatches(r): for every
// ready match, emit tournament:match-ready to both players and start the
// underlying Room via Lifecycle.createTournamentGame.
func (o *Orchestrator) startRoundMatches(tournamentID string, round int) {
	matches, err := o.store.ListTournamentMatches(tournamentID, round)
	if err != nil {
		log.Printf("[TOURNAMENT] failed listing round %d matches for %s: %v", round, tournamentID, err)
		return
	}

	o.hub.Broadcast("tournament:round-started", map[string]interface{}{"tournamentId": tournamentID, "round": round})

	for _, m := range matches {
		if m.Status != "ready" || m.P1ID == nil || m.P2ID == nil {
			if m.Status == "completed" {
				// A bye promoted from the previous round; its winner
				// still needs a round-completion check once all its
				// siblings resolve.
				continue
			}
			continue
		}
		gameID, err := o.starter.CreateTournamentGame(*m.P1ID, *m.P2ID, tournamentID, round, m.MatchID)
		if err != nil {
			log.Printf("[TOURNAMENT] failed to start match %s: %v", m.MatchID, err)
			continue
		}
		if err := o.store.UpdateTournamentMatch(m.MatchID, map[string]interface{}{"status": "in_progress", "game_id": gameID}); err != nil {
			log.Printf("[TOURNAMENT] failed to attach game %d to match %s: %v", gameID, m.MatchID, err)
		}
		o.hub.EmitToUser(*m.P1ID, "tournament:match-ready", map[string]interface{}{"matchId": m.MatchID, "gameId": gameID})
		o.hub.EmitToUser(*m.P2ID, "tournament:match-ready", map[string]interface{}{"matchId": m.MatchID, "gameId": gameID})
	}

	// Byes completed in generateBracket need their completion checked
	// immediately so a round of all-byes still advances.
	o.checkRoundCompletion(tournamentID, round)
}

// onGameEnded is the Hub subscriber for "tournament:game-ended" (§4.6
// "Result capture"), published by Lifecycle.onRoomEnd for any Room whose
// EndResult carries a Tournament link. Round advancement is guarded by
// the distributed LockManager since several matches of a round can end
// within milliseconds of each other.
func (o *Orchestrator) onGameEnded(_ int64, data interface{}) {
	result, ok := data.(models.EndResult)
	if !ok || result.Tournament == nil {
		return
	}
	tournamentID := result.Tournament.TournamentID
	round := result.Tournament.Round
	matchID := result.Tournament.MatchID

	lockKey := locks.TournamentRoundLockKey(tournamentID)
	lock, err := o.locks.AcquireLockWithTimeout(lockKey, locks.DefaultLockTTL, locks.DefaultAcquireTimeout)
	if err != nil {
		log.Printf("[TOURNAMENT] failed to acquire round-advance lock for %s: %v", tournamentID, err)
		return
	}
	defer lock.Release(context.Background())

	if t, err := o.store.GetTournament(tournamentID); err != nil || t.Status != "IN_PROGRESS" {
		// Cancelled (or already finished) — e.g. this is the forfeit
		// Cancel() triggered for an in-progress match; don't resurrect
		// round advancement for a tournament no longer running.
		return
	}

	if err := o.store.UpdateTournamentMatch(matchID, map[string]interface{}{"winner_id": result.WinnerID, "status": "completed"}); err != nil {
		log.Printf("[TOURNAMENT] failed to record match result %s: %v", matchID, err)
		return
	}
	o.hub.Broadcast("tournament:match-completed", map[string]interface{}{"tournamentId": tournamentID, "matchId": matchID, "winnerId": result.WinnerID})

	o.checkRoundCompletion(tournamentID, round)
}

// checkRoundCompletion implements §4.6's checkRoundCompletion(r): if
// every round-r match is completed, advanceWinners(r).
func (o *Orchestrator) checkRoundCompletion(tournamentID string, round int) {
	matches, err := o.store.ListTournamentMatches(tournamentID, round)
	if err != nil {
		log.Printf("[TOURNAMENT] failed listing matches for completion check: %v", err)
		return
	}
	for _, m := range matches {
		if m.Status != "completed" {
			return
		}
	}
	o.advanceWinners(tournamentID, round, matches)
}

// advanceWinners implements §4.6's advanceWinners(r): pair winners into
// round r+1 slots (I6), promoting byes; finish the tournament if r was
// the final round.
func (o *Orchestrator) advanceWinners(tournamentID string, round int, completed []store.TournamentMatch) {
	t, err := o.store.GetTournament(tournamentID)
	if err != nil {
		log.Printf("[TOURNAMENT] failed to load tournament %s while advancing: %v", tournamentID, err)
		return
	}

	if round >= t.TotalRounds {
		var winnerID *int64
		if len(completed) == 1 {
			winnerID = completed[0].WinnerID
		}
		if err := o.store.UpdateTournament(tournamentID, map[string]interface{}{
			"status":      "FINISHED",
			"winner_id":   winnerID,
			"finished_at": time.Now(),
		}); err != nil {
			log.Printf("[TOURNAMENT] failed finishing tournament %s: %v", tournamentID, err)
			return
		}
		o.hub.Broadcast("tournament:completed", map[string]interface{}{"tournamentId": tournamentID, "winnerId": winnerID})

		o.clock.AfterFunc(cacheEvictAfter, func() {
			log.Printf("[TOURNAMENT] evicting cache entry for finished tournament %s", tournamentID)
		})
		return
	}

	nextMatches, err := o.store.ListTournamentMatches(tournamentID, round+1)
	if err != nil {
		log.Printf("[TOURNAMENT] failed listing round %d matches: %v", round+1, err)
		return
	}
	byMatchNumber := make(map[int]store.TournamentMatch, len(nextMatches))
	for _, m := range nextMatches {
		byMatchNumber[m.MatchNumber] = m
	}

	for _, m := range completed {
		if m.WinnerID == nil {
			continue
		}
		nextMatchNumber := m.MatchNumber / 2
		next, ok := byMatchNumber[nextMatchNumber]
		if !ok {
			continue
		}
		patch := map[string]interface{}{}
		if m.MatchNumber%2 == 0 {
			patch["p1_id"] = *m.WinnerID
		} else {
			patch["p2_id"] = *m.WinnerID
		}
		if err := o.store.UpdateTournamentMatch(next.MatchID, patch); err != nil {
			log.Printf("[TOURNAMENT] failed promoting winner into %s: %v", next.MatchID, err)
		}
	}

	// Re-read round+1 to mark any now-complete-by-bye match ready, and to
	// auto-complete any match that ended up with only one populated
	// slot once both its feeder matches resolved.
	refreshed, err := o.store.ListTournamentMatches(tournamentID, round+1)
	if err != nil {
		log.Printf("[TOURNAMENT] failed re-listing round %d matches: %v", round+1, err)
		return
	}
	for _, m := range refreshed {
		if m.Status != "pending" {
			continue
		}
		if m.P1ID != nil && m.P2ID != nil {
			if err := o.store.UpdateTournamentMatch(m.MatchID, map[string]interface{}{"status": "ready"}); err != nil {
				log.Printf("[TOURNAMENT] failed to mark %s ready: %v", m.MatchID, err)
			}
		} else if m.P1ID != nil || m.P2ID != nil {
			winner := m.P1ID
			if winner == nil {
				winner = m.P2ID
			}
			if err := o.store.UpdateTournamentMatch(m.MatchID, map[string]interface{}{"status": "completed", "winner_id": *winner}); err != nil {
				log.Printf("[TOURNAMENT] failed to auto-complete bye %s: %v", m.MatchID, err)
			}
		}
	}

	nextRound := round + 1
	if err := o.store.UpdateTournament(tournamentID, map[string]interface{}{"current_round": nextRound}); err != nil {
		log.Printf("[TOURNAMENT] failed bumping current round for %s: %v", tournamentID, err)
		return
	}
	o.hub.Broadcast("tournament:round-completed", map[string]interface{}{"tournamentId": tournamentID, "round": round})

	o.clock.AfterFunc(roundAdvanceWait, func() {
		o.startRoundMatches(tournamentID, nextRound)
	})
}

// Cancel implements §4.6's cancellation: creator-only, allowed unless
// FINISHED; active matches end via Room Engine forfeit, which Cancel
// requests through the GameStarter's ForfeitRoom (the Lifecycle
// coordinator, which owns Room references).
func (o *Orchestrator) Cancel(callerID int64, tournamentID string) error {
	t, err := o.store.GetTournament(tournamentID)
	if err != nil {
		return err
	}
	if t.CreatorID != callerID {
		return apperrors.ErrNotCreator
	}
	if t.Status == "FINISHED" {
		return apperrors.ErrUnavailable
	}
	if err := o.store.UpdateTournament(tournamentID, map[string]interface{}{"status": "CANCELLED"}); err != nil {
		return err
	}

	matches, err := o.store.ListTournamentMatches(tournamentID, 0)
	if err != nil {
		log.Printf("[TOURNAMENT] failed listing matches to forfeit on cancel of %s: %v", tournamentID, err)
	}
	for _, m := range matches {
		if m.Status != "in_progress" || m.GameID == nil {
			continue
		}
		if err := o.starter.ForfeitRoom(*m.GameID); err != nil {
			log.Printf("[TOURNAMENT] failed to forfeit room %d for cancelled match %s: %v", *m.GameID, m.MatchID, err)
		}
	}

	o.hub.Broadcast("tournament:cancelled", map[string]interface{}{"tournamentId": tournamentID})
	return nil
}

func (o *Orchestrator) Get(tournamentID string) (*store.Tournament, error) {
	return o.store.GetTournament(tournamentID)
}

func (o *Orchestrator) GetBracket(tournamentID string) ([]store.TournamentMatch, error) {
	return o.store.ListTournamentMatches(tournamentID, 0)
}

func (o *Orchestrator) ListActive() ([]store.Tournament, error) {
	return o.store.QueryTournaments("IN_PROGRESS", 50, 0)
}

func (o *Orchestrator) MyTournaments(userID int64) ([]store.Tournament, error) {
	return o.store.ListTournamentsForUser(userID)
}

func log2(n int) int {
	return int(math.Round(math.Log2(float64(n))))
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p *= 2
	}
	return p
}
