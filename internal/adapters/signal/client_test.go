package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/edulive/rtcmesh/internal/domain"
)

func mustEnvelope(t *testing.T, event string, v any) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestDispatchRoutesToHandler(t *testing.T) {
	c := NewClient(Options{Identity: "u1"})

	var got RoomPayload
	c.On(EventJoin, func(payload []byte) {
		_ = json.Unmarshal(payload, &got)
	})

	c.dispatch(mustEnvelope(t, EventJoin, RoomPayload{ChatID: "chat-1", UserID: "u2"}))

	if got.ChatID != "chat-1" || got.UserID != "u2" {
		t.Errorf("handler got %+v", got)
	}
}

func TestDispatchUnknownEventIgnored(t *testing.T) {
	c := NewClient(Options{Identity: "u1"})
	c.dispatch(mustEnvelope(t, "no-such-event", RoomPayload{}))
	c.dispatch([]byte("not json"))
}

func TestOffDetachesHandler(t *testing.T) {
	c := NewClient(Options{Identity: "u1"})

	calls := 0
	c.On(EventJoin, func([]byte) { calls++ })
	c.Off(EventJoin)

	c.dispatch(mustEnvelope(t, EventJoin, RoomPayload{ChatID: "chat-1"}))

	if calls != 0 {
		t.Errorf("detached handler fired %d times", calls)
	}
}

func TestPresenceUpdatesOnlineSet(t *testing.T) {
	var seen []domain.UserID
	c := NewClient(Options{
		Identity: "u1",
		OnOnline: func(ids []domain.UserID) { seen = ids },
	})

	c.dispatch(mustEnvelope(t, EventOnlineUsers, []domain.UserID{"u2", "u3"}))

	online := c.Online()
	if len(online) != 2 || online[0] != "u2" || online[1] != "u3" {
		t.Errorf("Online() = %v", online)
	}
	if len(seen) != 2 {
		t.Errorf("callback saw %v", seen)
	}
}

func TestForcedLogoutClosesChannel(t *testing.T) {
	var reason string
	c := NewClient(Options{
		Identity:     "u1",
		ForcedLogout: func(r string) { reason = r },
	})
	c.On(EventJoin, func([]byte) { t.Error("handler must not survive forced logout") })

	c.dispatch(mustEnvelope(t, EventForceLogout, LogoutPayload{Reason: "signed in elsewhere"}))

	if reason != "signed in elsewhere" {
		t.Errorf("reason = %q", reason)
	}
	if err := c.Send(EventJoin, RoomPayload{}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("Send after forced logout = %v, want ErrChannelClosed", err)
	}
	c.dispatch(mustEnvelope(t, EventJoin, RoomPayload{}))
}

func TestSendAfterCloseRefused(t *testing.T) {
	c := NewClient(Options{Identity: "u1"})
	c.Close()
	c.Close() // idempotent

	if err := c.Send(EventJoin, RoomPayload{ChatID: "chat-1"}); !errors.Is(err, ErrChannelClosed) {
		t.Errorf("err = %v, want ErrChannelClosed", err)
	}
}

func TestSendBackpressureDropsFrame(t *testing.T) {
	c := NewClient(Options{Identity: "u1"})

	// No pumps running: fill the outgoing buffer to the brim.
	for i := 0; i < cap(c.send); i++ {
		if err := c.Send(EventTyping, TypingPayload{ChatID: "chat-1", UserID: "u1"}); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if err := c.Send(EventTyping, TypingPayload{ChatID: "chat-1", UserID: "u1"}); !errors.Is(err, ErrBackpressure) {
		t.Errorf("err = %v, want ErrBackpressure", err)
	}
}

func TestConnectWithoutIdentityIsNoop(t *testing.T) {
	c := NewClient(Options{URL: "ws://127.0.0.1:1"})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect without identity: %v", err)
	}
}

func TestConnectRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan Envelope, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("userId"); got != "u1" {
			t.Errorf("userId query = %q, want u1", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.TextMessage,
			mustEnvelope(t, EventOnlineUsers, []domain.UserID{"u1", "u2"})); err != nil {
			return
		}
		var env Envelope
		if _, data, err := conn.ReadMessage(); err == nil {
			if json.Unmarshal(data, &env) == nil {
				received <- env
			}
		}
	}))
	defer srv.Close()

	c := NewClient(Options{
		URL:      "ws" + strings.TrimPrefix(srv.URL, "http"),
		Identity: "u1",
	})
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(c.Online()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := c.Online(); len(got) != 2 {
		t.Fatalf("Online() = %v, want two users", got)
	}

	if err := c.Send(EventTyping, TypingPayload{ChatID: "chat-1", UserID: "u1"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case env := <-received:
		if env.Event != EventTyping {
			t.Errorf("relay got event %q, want %q", env.Event, EventTyping)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay never received the frame")
	}
}

func TestDialFailureExhaustsRetries(t *testing.T) {
	c := NewClient(Options{
		URL:               "ws://127.0.0.1:1",
		Identity:          "u1",
		ReconnectAttempts: 1,
		ReconnectDelay:    time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatal("connect to a dead port must fail")
	}
}
