package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
)

var (
	ErrConnect         = errors.New("failed to connect to clearing node")
	ErrNotConnected    = errors.New("clearing node session not connected")
	ErrNoActiveChannel = errors.New("no active channel")
	ErrFaucet          = errors.New("faucet request failed")
)

// State is the session lifecycle position.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateChannelOpen  State = "channel_open"
	StateClosing      State = "closing"
)

// AssetBalance is one entry of the clearing node's unified balance report.
type AssetBalance struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Config locates the clearing node endpoints.
type Config struct {
	WSURL     string
	FaucetURL string
	HTTPBase  string
}

// wire abstracts the websocket connection for testing.
type wire interface {
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
	Close() error
}

// Dialer opens a wire to the clearing node.
type Dialer func(ctx context.Context, url string) (wire, error)

func defaultDialer(ctx context.Context, url string) (wire, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type frame struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params interface{}     `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Session tracks at most one active payment channel for one user identity
// against the clearing node. All lifecycle mutation is serialized: concurrent
// UI actions (manual payment and the demo flow firing together) must not
// produce divergent channel-id state.
type Session struct {
	identity string
	cfg      Config
	dial     Dialer
	http     *http.Client

	// opMu serializes connect/open/close operations end to end.
	opMu sync.Mutex

	// mu guards the fields below, shared with the read loop.
	mu        sync.Mutex
	state     State
	conn      wire
	channelID string
	token     string
	tokenExp  time.Time
	nextID    uint64
	pending   map[uint64]chan frame
	done      chan struct{}
	balances  []AssetBalance
	channels  []string
}

// NewSession creates a disconnected session for the given user identity.
func NewSession(identity string, cfg Config) *Session {
	return &Session{
		identity: identity,
		cfg:      cfg,
		dial:     defaultDialer,
		http:     &http.Client{Timeout: 15 * time.Second},
		state:    StateDisconnected,
		pending:  make(map[uint64]chan frame),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ActiveChannelID returns the tracked channel id, empty when none is open.
func (s *Session) ActiveChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channelID
}

// Balances returns the last refreshed unified balance.
func (s *Session) Balances() []AssetBalance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances
}

// Connect dials and authenticates against the clearing node. Connecting an
// already connected session is a no-op. On failure the session is left
// disconnected.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateConnected || s.state == StateChannelOpen {
		if s.tokenExp.IsZero() || time.Now().Before(s.tokenExp) {
			s.mu.Unlock()
			return nil
		}
		// Session token expired; tear down and authenticate afresh.
		s.resetLocked(s.conn)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	conn, err := s.dial(ctx, s.cfg.WSURL)
	if err != nil {
		s.reset(nil)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.done = make(chan struct{})
	s.mu.Unlock()
	go s.readLoop(conn, s.done)

	result, err := s.call(ctx, "auth_request", map[string]string{"address": s.identity})
	if err != nil {
		s.reset(conn)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	var auth struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result, &auth); err != nil {
		s.reset(conn)
		return fmt.Errorf("%w: malformed auth response: %v", ErrConnect, err)
	}

	s.mu.Lock()
	s.token = auth.Token
	s.tokenExp = tokenExpiry(auth.Token)
	s.state = StateConnected
	s.mu.Unlock()

	log.Printf("clearing node session established for %s", s.identity)
	return nil
}

// tokenExpiry extracts the exp claim from the session token. The token is
// issued and verified by the clearing node; it is only parsed here for
// expiry bookkeeping.
func tokenExpiry(token string) time.Time {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// OpenChannel creates a channel among exactly the given participants. The
// clearing node permits opening while another channel is open; callers that
// want reuse should check ActiveChannelID first.
func (s *Session) OpenChannel(ctx context.Context, participants []string, challengeDuration uint32) (string, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != StateConnected && s.state != StateChannelOpen {
		s.mu.Unlock()
		return "", ErrNotConnected
	}
	s.mu.Unlock()

	result, err := s.call(ctx, "create_channel", map[string]interface{}{
		"participants":       participants,
		"challenge_duration": challengeDuration,
	})
	if err != nil {
		return "", fmt.Errorf("failed to open channel: %w", err)
	}

	var opened struct {
		ChannelID string `json:"channel_id"`
	}
	if err := json.Unmarshal(result, &opened); err != nil || opened.ChannelID == "" {
		return "", fmt.Errorf("malformed create_channel response")
	}

	s.mu.Lock()
	s.channelID = opened.ChannelID
	s.state = StateChannelOpen
	s.mu.Unlock()

	return opened.ChannelID, nil
}

// CloseActiveChannel requests settlement of the active channel's last known
// state. Settlement is initiated, not finalized: the challenge window still
// applies after acknowledgement.
func (s *Session) CloseActiveChannel(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.channelID == "" {
		s.mu.Unlock()
		return ErrNoActiveChannel
	}
	channelID := s.channelID
	s.state = StateClosing
	s.mu.Unlock()

	_, err := s.call(ctx, "close_channel", map[string]string{"channel_id": channelID})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateChannelOpen
		return fmt.Errorf("failed to close channel %s: %w", channelID, err)
	}
	s.channelID = ""
	s.state = StateConnected
	return nil
}

// RefreshInfo refreshes the channel listing and unified balance. Failures are
// swallowed: the refresh is observability only and must never fail a flow.
func (s *Session) RefreshInfo(ctx context.Context) {
	if result, err := s.call(ctx, "list_channels", map[string]string{"participant": s.identity}); err == nil {
		var listing struct {
			Channels []string `json:"channels"`
		}
		if json.Unmarshal(result, &listing) == nil {
			s.mu.Lock()
			s.channels = listing.Channels
			s.mu.Unlock()
		}
	}

	if s.cfg.HTTPBase == "" {
		return
	}
	url := fmt.Sprintf("%s/users/%s/balance", s.cfg.HTTPBase, s.identity)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}
	var balances []AssetBalance
	if json.NewDecoder(resp.Body).Decode(&balances) == nil {
		s.mu.Lock()
		s.balances = balances
		s.mu.Unlock()
	}
}

// RequestFaucet requests test funds for the session identity.
func (s *Session) RequestFaucet(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"userAddress": s.identity})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.FaucetURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFaucet, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFaucet, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrFaucet, resp.StatusCode, bytes.TrimSpace(msg))
	}

	s.RefreshInfo(ctx)
	return nil
}

// Close tears the session down and returns it to the disconnected state.
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(s.conn)
}

// connectionLost resets the session after the read loop fails, unless a newer
// connection has already replaced the dropped one.
func (s *Session) connectionLost(conn wire) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return
	}
	log.Printf("clearing node connection lost for %s", s.identity)
	s.resetLocked(conn)
}

func (s *Session) reset(conn wire) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked(conn)
}

// resetLocked tears down the connection state and fails pending calls.
// The caller holds mu.
func (s *Session) resetLocked(conn wire) {
	if conn != nil {
		conn.Close()
	}
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
		s.done = nil
	}
	s.conn = nil
	s.channelID = ""
	s.token = ""
	s.tokenExp = time.Time{}
	s.state = StateDisconnected
	for id, ch := range s.pending {
		close(ch)
		delete(s.pending, id)
	}
}

// call performs one request/response exchange over the websocket.
func (s *Session) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	s.mu.Lock()
	conn := s.conn
	if conn == nil {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.nextID++
	id := s.nextID
	ch := make(chan frame, 1)
	s.pending[id] = ch
	done := s.done
	s.mu.Unlock()

	if err := conn.WriteJSON(frame{ID: id, Method: method, Params: params}); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	case <-done:
		return nil, ErrNotConnected
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("clearing node error: %s", resp.Error)
		}
		return resp.Result, nil
	}
}

func (s *Session) readLoop(conn wire, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		var resp frame
		if err := conn.ReadJSON(&resp); err != nil {
			s.connectionLost(conn)
			return
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}
