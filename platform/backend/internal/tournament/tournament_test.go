package tournament

import (
	"testing"
	"time"

	"pong-platform/backend/internal/clock"
	"pong-platform/backend/internal/hub"
	"pong-platform/backend/internal/store"
)

type fakeStarter struct {
	started []struct {
		p1, p2       int64
		tournamentID string
		round        int
		matchID      string
	}
	nextGameID   int64
	forfeitedIDs []int64
}

func (f *fakeStarter) CreateTournamentGame(p1ID, p2ID int64, tournamentID string, round int, matchID string) (int64, error) {
	f.nextGameID++
	f.started = append(f.started, struct {
		p1, p2       int64
		tournamentID string
		round        int
		matchID      string
	}{p1ID, p2ID, tournamentID, round, matchID})
	return f.nextGameID, nil
}

func (f *fakeStarter) ForfeitRoom(roomID int64) error {
	f.forfeitedIDs = append(f.forfeitedIDs, roomID)
	return nil
}

func setup(t *testing.T) (*Orchestrator, store.Store, *fakeStarter, *clock.Fake) {
	s, err := store.New(store.Config{Driver: "sqlite", SQLitePath: "file::memory:?mode=memory&cache=shared"})
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	h := hub.New()
	fs := &fakeStarter{}
	fc := clock.NewFake(time.Now())
	o := New(s, h, fs, nil, fc)
	return o, s, fs, fc
}

func seedUsers(t *testing.T, s store.Store, ids ...int64) {
	for _, id := range ids {
		if _, err := s.CreateUserIfMissing(id, "p", false); err != nil {
			t.Fatal(err)
		}
	}
}

func TestCreateRejectsInvalidMaxPlayers(t *testing.T) {
	o, _, _, _ := setup(t)
	if _, err := o.Create(1, "cup", 6, "single_elimination"); err == nil {
		t.Error("expected invalid maxPlayers to be rejected")
	}
}

func TestJoinAutoStartsOnceFull(t *testing.T) {
	o, s, fs, fc := setup(t)
	seedUsers(t, s, 1, 2, 3, 4)

	id, err := o.Create(1, "cup", 4, "single_elimination")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Join(2, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Join(3, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Join(4, id); err != nil {
		t.Fatal(err)
	}

	fc.Advance(autoStartDelay)

	tr, err := o.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != "IN_PROGRESS" {
		t.Errorf("expected auto-start after filling the bracket, got status %s", tr.Status)
	}
	if len(fs.started) != 2 {
		t.Errorf("expected 2 round-1 matches started for a 4-player bracket, got %d", len(fs.started))
	}
}

func TestJoinRejectsDuplicateAndFull(t *testing.T) {
	o, s, _, _ := setup(t)
	seedUsers(t, s, 1, 2, 3, 4, 5)

	id, err := o.Create(1, "cup", 4, "single_elimination")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Join(1, id); err == nil {
		t.Error("expected joining twice to be rejected")
	}
	if err := o.Join(2, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Join(3, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Join(4, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Join(5, id); err == nil {
		t.Error("expected join to a full bracket to be rejected")
	}
}

func TestStartRejectsNonCreator(t *testing.T) {
	o, s, _, _ := setup(t)
	seedUsers(t, s, 1, 2)

	id, err := o.Create(1, "cup", 4, "single_elimination")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Join(2, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Start(2, id); err == nil {
		t.Error("expected non-creator start to be rejected")
	}
}

func TestStartWithThreePlayersByesOneIntoRoundTwo(t *testing.T) {
	o, s, fs, _ := setup(t)
	seedUsers(t, s, 1, 2, 3)

	id, err := o.Create(1, "cup", 4, "single_elimination")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Join(2, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Join(3, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Start(1, id); err != nil {
		t.Fatal(err)
	}

	if len(fs.started) != 1 {
		t.Errorf("expected only the single real round-1 match to start (the bye needs no Room), got %d", len(fs.started))
	}

	bracket, err := o.GetBracket(id)
	if err != nil {
		t.Fatal(err)
	}
	byes := 0
	for _, m := range bracket {
		if m.Round == 1 && m.Status == "completed" {
			byes++
		}
	}
	if byes != 1 {
		t.Errorf("expected exactly one round-1 bye, got %d", byes)
	}
}

func TestCancelForfeitsInProgressMatches(t *testing.T) {
	o, s, fs, _ := setup(t)
	seedUsers(t, s, 1, 2)

	id, err := o.Create(1, "cup", 4, "single_elimination")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Join(2, id); err != nil {
		t.Fatal(err)
	}
	if err := o.Start(1, id); err != nil {
		t.Fatal(err)
	}
	if len(fs.started) != 1 {
		t.Fatalf("expected the round-1 match to start, got %d", len(fs.started))
	}

	if err := o.Cancel(1, id); err != nil {
		t.Fatal(err)
	}

	if len(fs.forfeitedIDs) != 1 || fs.forfeitedIDs[0] != fs.nextGameID {
		t.Errorf("expected cancel to forfeit the single active room %d, got %v", fs.nextGameID, fs.forfeitedIDs)
	}
}

func TestCancelRequiresCreatorAndNotFinished(t *testing.T) {
	o, s, _, _ := setup(t)
	seedUsers(t, s, 1, 2)

	id, err := o.Create(1, "cup", 4, "single_elimination")
	if err != nil {
		t.Fatal(err)
	}
	if err := o.Cancel(2, id); err == nil {
		t.Error("expected non-creator cancel to be rejected")
	}
	if err := o.Cancel(1, id); err != nil {
		t.Fatal(err)
	}

	tr, err := o.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Status != "CANCELLED" {
		t.Errorf("expected status CANCELLED, got %s", tr.Status)
	}
}
