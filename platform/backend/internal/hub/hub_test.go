package hub

import "testing"

func TestEmitToUserDropsSilentlyWhenDisconnected(t *testing.T) {
	h := New()
	// No connection registered for user 1; must not panic or block.
	h.EmitToUser(1, "game-update", map[string]int{"x": 1})
}

func TestIsConnectedReflectsAddAndRemove(t *testing.T) {
	h := New()
	if h.IsConnected(1) {
		t.Fatal("expected user 1 not connected before AddConnection")
	}

	h.mu.Lock()
	h.connections[1] = &Connection{UserID: 1, Send: make(chan []byte, 1)}
	h.mu.Unlock()

	if !h.IsConnected(1) {
		t.Fatal("expected user 1 connected after registering")
	}

	h.Remove(1)
	if h.IsConnected(1) {
		t.Fatal("expected user 1 disconnected after Remove")
	}
}

func TestOnPublishInvokesRegisteredHandlers(t *testing.T) {
	h := New()
	var got interface{}
	h.On("tournament:game-ended", func(userID int64, data interface{}) {
		got = data
	})

	h.Publish("tournament:game-ended", 7, map[string]int{"gameId": 42})

	m, ok := got.(map[string]int)
	if !ok || m["gameId"] != 42 {
		t.Errorf("expected subscriber to receive published data, got %v", got)
	}
}

func TestSetStatusIsNoOpWhenNotConnected(t *testing.T) {
	h := New()
	h.SetStatus(99, StatusInGame)
}
