// Package wsapi is the transport-boundary command/event dispatch table
// (spec §9, §6): a finite map[string]handler, not a switch-on-string or
// reflection-based router, replacing the teacher's
// internal/server/events/events.go-style inline switch in handleWSMessage.
// Validation happens here, at the boundary; every handler below hands the
// Matchmaking/Lifecycle/Tournament layers statically typed arguments.
package wsapi

import (
	"encoding/json"
	"log"

	"pong-engine/engine"
	"pong-engine/models"

	"pong-platform/backend/internal/apperrors"
	"pong-platform/backend/internal/hub"
	"pong-platform/backend/internal/lifecycle"
	"pong-platform/backend/internal/ratelimit"
	"pong-platform/backend/internal/tournament"
)

// Dispatcher wires one authenticated connection's inbound events to the
// core services.
type Dispatcher struct {
	hub     *hub.Hub
	rooms   *engine.RoomManager
	life    *lifecycle.Coordinator
	tourn   *tournament.Orchestrator
	limiter *ratelimit.Limiter
}

func New(h *hub.Hub, rooms *engine.RoomManager, life *lifecycle.Coordinator, tourn *tournament.Orchestrator, limiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{hub: h, rooms: rooms, life: life, tourn: tourn, limiter: limiter}
}

type handlerFunc func(d *Dispatcher, userID int64, data interface{}) error

// commandTable is the finite dispatch table named in spec §9's redesign
// flag: every inbound event string maps to exactly one typed handler, so
// adding an event means adding an entry here, not a new switch case.
var commandTable = map[string]handlerFunc{
	"game:join-matchmaking": handleJoinMatchmaking,
	"game:create-private":   handleCreatePrivate,
	"game:join-private":     handleJoinPrivate,
	"game:create-local":     handleCreateLocal,
	"game:create-ai":        handleCreateAI,
	"game:move":             handleMove,
	"game:leave":            handleLeave,
	"game:forfeit":          handleForfeit,
	"game:rejoin":           handleRejoin,
	"game:spectate":         handleSpectate,

	"tournament:create":          handleTournamentCreate,
	"tournament:join":            handleTournamentJoin,
	"tournament:leave":           handleTournamentLeave,
	"tournament:start":           handleTournamentStart,
	"tournament:cancel":          handleTournamentCancel,
	"tournament:get":             handleTournamentGet,
	"tournament:get-bracket":     handleTournamentGetBracket,
	"tournament:list-active":     handleTournamentListActive,
	"tournament:my-tournaments":  handleTournamentMyTournaments,
}

// Dispatch is the Hub.ReadPump callback: rate-limits, looks up the
// handler, and reports failures over the same "*:error" shape for every
// event (§7's error taxonomy).
func (d *Dispatcher) Dispatch(userID int64, msg hub.Message) {
	if !d.limiter.Allow(userID) {
		d.sendError(userID, msg.Event, "rate limited")
		return
	}

	h, ok := commandTable[msg.Event]
	if !ok {
		log.Printf("[WSAPI] unknown event %q from user %d", msg.Event, userID)
		d.sendError(userID, msg.Event, "unknown event")
		return
	}
	if err := h(d, userID, msg.Data); err != nil {
		d.sendError(userID, msg.Event, err.Error())
	}
}

func (d *Dispatcher) sendError(userID int64, event string, message string) {
	d.hub.EmitToUser(userID, event+":error", map[string]string{"message": message})
}

// decode round-trips an already-unmarshaled interface{} (as produced by
// ReadJSON into Message.Data) into a concrete struct, the one dynamic
// step the transport boundary needs before handlers see typed values.
func decode(data interface{}, out interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return apperrors.ErrMissingField
	}
	return json.Unmarshal(raw, out)
}

func handleJoinMatchmaking(d *Dispatcher, userID int64, _ interface{}) error {
	return d.life.JoinMatchmaking(userID)
}

func handleCreatePrivate(d *Dispatcher, userID int64, _ interface{}) error {
	roomID, err := d.life.CreatePrivate(userID)
	if err != nil {
		return err
	}
	d.hub.EmitToUser(userID, "game:private-created", map[string]int64{"gameId": roomID})
	return nil
}

type joinPrivatePayload struct {
	GameID int64 `json:"gameId"`
}

func handleJoinPrivate(d *Dispatcher, userID int64, data interface{}) error {
	var p joinPrivatePayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	return d.life.JoinPrivate(userID, p.GameID)
}

func handleCreateLocal(d *Dispatcher, userID int64, _ interface{}) error {
	// player1Name/player2Name are display-only labels the client renders
	// locally; the Room Engine tracks only the one controlling userId for
	// both paddles, so no server-side field carries them.
	roomID, err := d.life.CreateLocal(userID)
	if err != nil {
		return err
	}
	d.hub.EmitToUser(userID, "game:local-created", map[string]int64{"gameId": roomID})
	return nil
}

type createAIPayload struct {
	Difficulty string `json:"difficulty"`
}

func handleCreateAI(d *Dispatcher, userID int64, data interface{}) error {
	var p createAIPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	switch p.Difficulty {
	case "easy", "medium", "hard":
	default:
		return apperrors.ErrMissingField
	}
	roomID, err := d.life.CreateAIGame(userID, p.Difficulty)
	if err != nil {
		return err
	}
	d.hub.EmitToUser(userID, "game:ai-created", map[string]int64{"gameId": roomID})
	return nil
}

type movePayload struct {
	GameID       int64 `json:"gameId"`
	Direction    int   `json:"direction"`
	PlayerNumber int   `json:"playerNumber"`
}

func handleMove(d *Dispatcher, userID int64, data interface{}) error {
	var p movePayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	if p.Direction < 0 || p.Direction > 2 {
		return apperrors.ErrInvalidDirection
	}
	room, ok := d.rooms.GetRoom(p.GameID)
	if !ok {
		return apperrors.ErrGameNotFound
	}
	return room.ApplyInput(userID, models.Direction(p.Direction), p.PlayerNumber)
}

func handleLeave(d *Dispatcher, userID int64, _ interface{}) error {
	return d.life.LeaveGame(userID)
}

func handleForfeit(d *Dispatcher, userID int64, _ interface{}) error {
	return d.life.Forfeit(userID)
}

type rejoinPayload struct {
	GameID int64 `json:"gameId"`
}

func handleRejoin(d *Dispatcher, userID int64, data interface{}) error {
	var p rejoinPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	return d.life.RejoinGame(userID, p.GameID)
}

type spectatePayload struct {
	GameID int64 `json:"gameId"`
}

func handleSpectate(d *Dispatcher, userID int64, data interface{}) error {
	var p spectatePayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	return d.life.Spectate(userID, p.GameID)
}

type tournamentCreatePayload struct {
	Name        string `json:"name"`
	MaxPlayers  int    `json:"maxPlayers"`
	BracketType string `json:"bracketType"`
}

func handleTournamentCreate(d *Dispatcher, userID int64, data interface{}) error {
	var p tournamentCreatePayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	_, err := d.tourn.Create(userID, p.Name, p.MaxPlayers, p.BracketType)
	return err
}

type tournamentIDPayload struct {
	TournamentID string `json:"tournamentId"`
}

func handleTournamentJoin(d *Dispatcher, userID int64, data interface{}) error {
	var p tournamentIDPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	return d.tourn.Join(userID, p.TournamentID)
}

func handleTournamentLeave(d *Dispatcher, userID int64, data interface{}) error {
	var p tournamentIDPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	return d.tourn.Leave(userID, p.TournamentID)
}

func handleTournamentStart(d *Dispatcher, userID int64, data interface{}) error {
	var p tournamentIDPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	return d.tourn.Start(userID, p.TournamentID)
}

func handleTournamentCancel(d *Dispatcher, userID int64, data interface{}) error {
	var p tournamentIDPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	return d.tourn.Cancel(userID, p.TournamentID)
}

func handleTournamentGet(d *Dispatcher, userID int64, data interface{}) error {
	var p tournamentIDPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	t, err := d.tourn.Get(p.TournamentID)
	if err != nil {
		return err
	}
	d.hub.EmitToUser(userID, "tournament:get-result", t)
	return nil
}

func handleTournamentGetBracket(d *Dispatcher, userID int64, data interface{}) error {
	var p tournamentIDPayload
	if err := decode(data, &p); err != nil {
		return apperrors.ErrMissingField
	}
	bracket, err := d.tourn.GetBracket(p.TournamentID)
	if err != nil {
		return err
	}
	d.hub.EmitToUser(userID, "tournament:bracket-result", bracket)
	return nil
}

func handleTournamentListActive(d *Dispatcher, userID int64, _ interface{}) error {
	list, err := d.tourn.ListActive()
	if err != nil {
		return err
	}
	d.hub.EmitToUser(userID, "tournament:list-result", list)
	return nil
}

func handleTournamentMyTournaments(d *Dispatcher, userID int64, _ interface{}) error {
	list, err := d.tourn.MyTournaments(userID)
	if err != nil {
		return err
	}
	d.hub.EmitToUser(userID, "tournament:my-tournaments-result", list)
	return nil
}
