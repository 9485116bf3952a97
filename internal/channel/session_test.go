package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWire scripts the clearing node side of the websocket: every request is
// answered by the handler and queued for the session's read loop.
type fakeWire struct {
	handler func(f frame) frame

	mu     sync.Mutex
	inbox  chan frame
	closed chan struct{}
	once   sync.Once

	authCalls int
}

func newFakeWire(handler func(f frame) frame) *fakeWire {
	return &fakeWire{handler: handler, inbox: make(chan frame, 8), closed: make(chan struct{})}
}

func (w *fakeWire) WriteJSON(v interface{}) error {
	f, ok := v.(frame)
	if !ok {
		return fmt.Errorf("unexpected write type %T", v)
	}
	if f.Method == "auth_request" {
		w.mu.Lock()
		w.authCalls++
		w.mu.Unlock()
	}
	w.inbox <- w.handler(f)
	return nil
}

func (w *fakeWire) ReadJSON(v interface{}) error {
	select {
	case f := <-w.inbox:
		*(v.(*frame)) = f
		return nil
	case <-w.closed:
		return errors.New("connection closed")
	}
}

func (w *fakeWire) Close() error {
	w.once.Do(func() { close(w.closed) })
	return nil
}

func okHandler(f frame) frame {
	switch f.Method {
	case "auth_request":
		return frame{ID: f.ID, Result: json.RawMessage(`{"token":"session-token"}`)}
	case "create_channel":
		return frame{ID: f.ID, Result: json.RawMessage(`{"channel_id":"0xchan0123456789"}`)}
	case "close_channel":
		return frame{ID: f.ID, Result: json.RawMessage(`{}`)}
	case "list_channels":
		return frame{ID: f.ID, Result: json.RawMessage(`{"channels":["0xchan0123456789"]}`)}
	default:
		return frame{ID: f.ID, Error: "unknown method " + f.Method}
	}
}

func newTestSession(t *testing.T, handler func(f frame) frame) (*Session, *fakeWire) {
	t.Helper()
	fake := newFakeWire(handler)
	session := NewSession("0x3333333333333333333333333333333333333333", Config{WSURL: "wss://test.invalid/ws"})
	session.dial = func(ctx context.Context, url string) (wire, error) { return fake, nil }
	t.Cleanup(session.Close)
	return session, fake
}

func TestConnect(t *testing.T) {
	session, wire := newTestSession(t, okHandler)

	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, StateConnected, session.State())

	// Connecting again is a no-op; no second auth round trip.
	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, 1, wire.authCalls)
}

func TestConnect_DialFailure(t *testing.T) {
	session := NewSession("0x33", Config{WSURL: "wss://test.invalid/ws"})
	session.dial = func(ctx context.Context, url string) (wire, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	err := session.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, StateDisconnected, session.State())
}

func TestConnect_AuthFailure(t *testing.T) {
	session, _ := newTestSession(t, func(f frame) frame {
		return frame{ID: f.ID, Error: "address not allowed"}
	})

	err := session.Connect(context.Background())
	assert.ErrorIs(t, err, ErrConnect)
	assert.Equal(t, StateDisconnected, session.State())
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test"))
	require.NoError(t, err)

	assert.Equal(t, exp.Unix(), tokenExpiry(token).Unix())
	assert.True(t, tokenExpiry("not-a-jwt").IsZero())
}

func TestConnect_RedialsAfterConnectionLoss(t *testing.T) {
	var (
		mu    sync.Mutex
		dials int
		wires []*fakeWire
	)
	session := NewSession("0x3333333333333333333333333333333333333333", Config{WSURL: "wss://test.invalid/ws"})
	session.dial = func(ctx context.Context, url string) (wire, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		fake := newFakeWire(okHandler)
		wires = append(wires, fake)
		return fake, nil
	}
	t.Cleanup(session.Close)

	require.NoError(t, session.Connect(context.Background()))

	// Drop the connection out from under the session.
	mu.Lock()
	wires[0].Close()
	mu.Unlock()

	require.Eventually(t, func() bool {
		return session.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)

	// Calls fail fast on the dead session instead of hanging.
	_, err := session.OpenChannel(context.Background(), []string{"0x33", "0xdead"}, 600)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, session.Connect(context.Background()))
	assert.Equal(t, StateConnected, session.State())
	mu.Lock()
	assert.Equal(t, 2, dials)
	mu.Unlock()
}

func TestConnect_ReauthenticatesExpiredToken(t *testing.T) {
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}).SignedString([]byte("test"))
	require.NoError(t, err)

	handler := func(f frame) frame {
		if f.Method == "auth_request" {
			return frame{ID: f.ID, Result: json.RawMessage(fmt.Sprintf(`{"token":%q}`, expired))}
		}
		return okHandler(f)
	}

	var dials int
	session := NewSession("0x3333333333333333333333333333333333333333", Config{WSURL: "wss://test.invalid/ws"})
	session.dial = func(ctx context.Context, url string) (wire, error) {
		dials++
		return newFakeWire(handler), nil
	}
	t.Cleanup(session.Close)

	require.NoError(t, session.Connect(context.Background()))
	require.NoError(t, session.Connect(context.Background()))

	assert.Equal(t, 2, dials)
	assert.Equal(t, StateConnected, session.State())
}

func TestOpenChannel(t *testing.T) {
	session, _ := newTestSession(t, okHandler)
	require.NoError(t, session.Connect(context.Background()))

	channelID, err := session.OpenChannel(context.Background(), []string{"0x33", "0xdead"}, 600)
	require.NoError(t, err)

	assert.Equal(t, "0xchan0123456789", channelID)
	assert.Equal(t, StateChannelOpen, session.State())
	assert.Equal(t, channelID, session.ActiveChannelID())
}

func TestOpenChannel_NotConnected(t *testing.T) {
	session, _ := newTestSession(t, okHandler)

	_, err := session.OpenChannel(context.Background(), []string{"0x33", "0xdead"}, 600)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCloseActiveChannel(t *testing.T) {
	session, _ := newTestSession(t, okHandler)
	require.NoError(t, session.Connect(context.Background()))
	_, err := session.OpenChannel(context.Background(), []string{"0x33", "0xdead"}, 600)
	require.NoError(t, err)

	require.NoError(t, session.CloseActiveChannel(context.Background()))
	assert.Equal(t, StateConnected, session.State())
	assert.Empty(t, session.ActiveChannelID())
}

func TestCloseActiveChannel_NoChannel(t *testing.T) {
	session, _ := newTestSession(t, okHandler)
	require.NoError(t, session.Connect(context.Background()))

	err := session.CloseActiveChannel(context.Background())
	assert.ErrorIs(t, err, ErrNoActiveChannel)
	// The failed close must not disturb the session state.
	assert.Equal(t, StateConnected, session.State())
}

func TestCloseActiveChannel_FailureRestoresState(t *testing.T) {
	session, _ := newTestSession(t, func(f frame) frame {
		if f.Method == "close_channel" {
			return frame{ID: f.ID, Error: "challenge in progress"}
		}
		return okHandler(f)
	})
	require.NoError(t, session.Connect(context.Background()))
	channelID, err := session.OpenChannel(context.Background(), []string{"0x33", "0xdead"}, 600)
	require.NoError(t, err)

	err = session.CloseActiveChannel(context.Background())
	require.Error(t, err)

	// The channel is still open as far as we know; keep tracking it.
	assert.Equal(t, StateChannelOpen, session.State())
	assert.Equal(t, channelID, session.ActiveChannelID())
}

func TestClose_ResetsSession(t *testing.T) {
	session, _ := newTestSession(t, okHandler)
	require.NoError(t, session.Connect(context.Background()))
	_, err := session.OpenChannel(context.Background(), []string{"0x33", "0xdead"}, 600)
	require.NoError(t, err)

	session.Close()
	assert.Equal(t, StateDisconnected, session.State())
	assert.Empty(t, session.ActiveChannelID())
}

func TestManager_SessionPerIdentity(t *testing.T) {
	manager := NewManager(Config{WSURL: "wss://test.invalid/ws"})

	a := manager.Session("0xAbC0000000000000000000000000000000000001")
	b := manager.Session("0xabc0000000000000000000000000000000000001")
	c := manager.Session("0xabc0000000000000000000000000000000000002")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
