package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/wallet_dashboard/pkg/logger"
)

// Bridge frame types.
const (
	frameHello    = "hello"
	frameRequest  = "request"
	frameResponse = "response"
	frameEvent    = "event"
)

// bridgeFrame is the single message shape exchanged with the bridge page.
type bridgeFrame struct {
	Type       string          `json:"type"`
	ID         uint64          `json:"id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Params     []interface{}   `json:"params,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *RPCError       `json:"error,omitempty"`
	Event      string          `json:"event,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	IsMetaMask bool            `json:"isMetaMask,omitempty"`
}

// BridgeConfig configures the websocket bridge.
type BridgeConfig struct {
	// AllowedOrigins lists page origins allowed to attach. Empty means same origin only.
	AllowedOrigins []string
	// RequestTimeout bounds requests whose context has no deadline. Wallet
	// prompts wait on a human, so this is long.
	RequestTimeout time.Duration
	PingInterval   time.Duration
}

// BridgeProvider relays EIP-1193 requests to a browser page that holds the
// real wallet extension. One page is attached at a time; a new page replaces
// the previous one.
type BridgeProvider struct {
	cfg       BridgeConfig
	log       *logger.Logger
	upgrader  websocket.Upgrader
	listeners listeners

	mu      sync.Mutex
	session *bridgeSession
	closed  bool
}

type bridgeSession struct {
	conn       *websocket.Conn
	writeMu    sync.Mutex
	isMetaMask bool
	ready      bool

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan bridgeFrame
	done    chan struct{}
}

// NewBridgeProvider creates a bridge with no page attached.
func NewBridgeProvider(cfg BridgeConfig, log *logger.Logger) *BridgeProvider {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewDefault("wallet-bridge")
	}

	b := &BridgeProvider{cfg: cfg, log: log}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	if len(cfg.AllowedOrigins) > 0 {
		b.upgrader.CheckOrigin = b.checkOrigin
	}
	return b
}

func (b *BridgeProvider) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	for _, allowed := range b.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP upgrades the bridge page connection.
func (b *BridgeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		http.Error(w, "bridge closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.WithError(err).Warn("bridge upgrade failed")
		return
	}

	s := &bridgeSession{
		conn:    conn,
		pending: make(map[uint64]chan bridgeFrame),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	previous := b.session
	b.session = s
	b.mu.Unlock()
	if previous != nil {
		b.log.Info("bridge page replaced")
		previous.conn.Close()
	}

	go b.keepAlive(s)
	b.readLoop(s)
}

func (b *BridgeProvider) readLoop(s *bridgeSession) {
	defer b.detach(s)

	for {
		var frame bridgeFrame
		if err := s.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.log.WithError(err).Warn("bridge connection lost")
			}
			return
		}

		switch frame.Type {
		case frameHello:
			s.mu.Lock()
			s.ready = true
			s.isMetaMask = frame.IsMetaMask
			s.mu.Unlock()
			b.log.WithField("is_metamask", frame.IsMetaMask).Info("bridge page attached")
		case frameResponse:
			s.mu.Lock()
			ch, ok := s.pending[frame.ID]
			delete(s.pending, frame.ID)
			s.mu.Unlock()
			if ok {
				ch <- frame
			}
		case frameEvent:
			b.listeners.emit(frame.Event, frame.Data)
		default:
			b.log.WithField("type", frame.Type).Debug("ignoring bridge frame")
		}
	}
}

func (b *BridgeProvider) keepAlive(s *bridgeSession) {
	ticker := time.NewTicker(b.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.conn.Close()
				return
			}
		}
	}
}

// detach fails pending requests and announces the disconnect when s is still
// the active session.
func (b *BridgeProvider) detach(s *bridgeSession) {
	s.conn.Close()
	close(s.done)

	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint64]chan bridgeFrame)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- bridgeFrame{Type: frameResponse, Error: &RPCError{Code: CodeDisconnected, Message: "wallet bridge disconnected"}}
	}

	b.mu.Lock()
	active := b.session == s
	if active {
		b.session = nil
	}
	b.mu.Unlock()

	if active {
		b.log.Info("bridge page detached")
		b.listeners.emit(EventDisconnect, nil)
	}
}

func (b *BridgeProvider) active() *bridgeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || b.session == nil {
		return nil
	}
	b.session.mu.Lock()
	ready := b.session.ready
	b.session.mu.Unlock()
	if !ready {
		return nil
	}
	return b.session
}

// Request implements Provider.
func (b *BridgeProvider) Request(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	s := b.active()
	if s == nil {
		return nil, ErrNoProvider
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	// buffered so a late response never blocks the read loop.
	ch := make(chan bridgeFrame, 1)
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.pending[id] = ch
	s.mu.Unlock()

	if params == nil {
		params = []interface{}{}
	}
	s.writeMu.Lock()
	err := s.conn.WriteJSON(bridgeFrame{Type: frameRequest, ID: id, Method: method, Params: params})
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, &RPCError{Code: CodeDisconnected, Message: err.Error()}
	}

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	case frame := <-ch:
		if frame.Error != nil {
			return nil, frame.Error
		}
		return frame.Result, nil
	}
}

// On implements Provider.
func (b *BridgeProvider) On(event string, handler func(json.RawMessage)) func() {
	return b.listeners.on(event, handler)
}

// IsMetaMask implements Provider.
func (b *BridgeProvider) IsMetaMask() bool {
	s := b.active()
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isMetaMask
}

// Available implements Provider.
func (b *BridgeProvider) Available() bool {
	return b.active() != nil
}

// Close detaches the page and refuses new ones.
func (b *BridgeProvider) Close() error {
	b.mu.Lock()
	b.closed = true
	s := b.session
	b.mu.Unlock()
	if s != nil {
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		s.conn.Close()
	}
	return nil
}
