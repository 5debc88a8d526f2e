package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zinwlad/game-timer/internal/enforce"
)

var _ enforce.Display = (*Server)(nil)

type fakeController struct {
	mu      sync.Mutex
	unlocks int
	closed  int
}

func (f *fakeController) UnlockRequested() error {
	f.mu.Lock()
	f.unlocks++
	f.mu.Unlock()
	return nil
}

func (f *fakeController) MonitoredAppClosed() {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
}

func (f *fakeController) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocks, f.closed
}

func setup(t *testing.T) (*Server, *websocket.Conn) {
	t.Helper()
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, time.Millisecond)
	return s, conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestBroadcast(t *testing.T) {
	s, conn := setup(t)
	ctx := context.Background()

	require.NoError(t, s.ShowNotification(ctx, "Time is up"))
	require.NoError(t, s.ShowCountdown(ctx, 10))
	require.NoError(t, s.ShowBlock(ctx))
	require.NoError(t, s.HideBlock(ctx))

	assert.Equal(t, Message{Type: TypeNotification, Text: "Time is up"}, readMessage(t, conn))
	assert.Equal(t, Message{Type: TypeCountdown, Seconds: 10}, readMessage(t, conn))
	assert.Equal(t, TypeBlock, readMessage(t, conn).Type)
	assert.Equal(t, TypeHideBlock, readMessage(t, conn).Type)
}

func TestPromptRoundTrip(t *testing.T) {
	s, conn := setup(t)

	result := make(chan enforce.PromptAnswer, 1)
	go func() {
		a, _ := s.PromptAutoStart(context.Background(), "Start a 1h timer?")
		result <- a
	}()

	msg := readMessage(t, conn)
	require.Equal(t, TypePrompt, msg.Type)
	require.NotEmpty(t, msg.ID)

	require.NoError(t, conn.WriteJSON(Message{Type: TypePromptAnswer, ID: "other", Answer: "no"}))
	require.NoError(t, conn.WriteJSON(Message{Type: TypePromptAnswer, ID: msg.ID, Answer: "yes"}))

	select {
	case a := <-result:
		assert.Equal(t, enforce.PromptYes, a)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt not answered")
	}
}

func TestPromptTimeoutClosesPrompt(t *testing.T) {
	s, conn := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	a, err := s.PromptAutoStart(ctx, "Start?")
	require.NoError(t, err)
	assert.Equal(t, enforce.PromptTimeout, a)

	first := readMessage(t, conn)
	second := readMessage(t, conn)
	assert.Equal(t, TypePrompt, first.Type)
	assert.Equal(t, Message{Type: TypePromptClosed, ID: first.ID}, second)
}

func TestPromptWithoutClients(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	defer s.Close()

	a, err := s.PromptAutoStart(context.Background(), "Start?")
	require.NoError(t, err)
	assert.Equal(t, enforce.PromptTimeout, a)
}

func TestInboundControl(t *testing.T) {
	s, conn := setup(t)
	ctrl := &fakeController{}
	s.SetController(ctrl)

	require.NoError(t, conn.WriteJSON(Message{Type: TypeUnlock}))
	require.NoError(t, conn.WriteJSON(Message{Type: TypeClosedWithinGrace}))
	require.NoError(t, conn.WriteJSON(Message{Type: "dance"}))

	require.Eventually(t, func() bool {
		u, c := ctrl.counts()
		return u == 1 && c == 1
	}, time.Second, time.Millisecond)
}

func TestClientDisconnectUnregisters(t *testing.T) {
	s, conn := setup(t)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, time.Millisecond)
}

func TestSendAfterClose(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	s.Close()
	// The broadcast buffer may still accept; once full, sends report closed.
	var err error
	for i := 0; i < 300 && err == nil; i++ {
		err = s.ShowBlock(context.Background())
	}
	assert.ErrorIs(t, err, ErrClosed)
}

func TestForeignOriginRejected(t *testing.T) {
	s := NewServer("127.0.0.1:0", zerolog.Nop())
	ts := httptest.NewServer(s.Handler())
	defer func() {
		s.Close()
		ts.Close()
	}()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.example"}})
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, s.Clients())

	for _, origin := range []string{"http://localhost:8765", "http://127.0.0.1", "http://[::1]:3000"} {
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {origin}})
		require.NoError(t, err, origin)
		conn.Close()
	}
}
