package channel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"lumos/internal/agent"
	"lumos/internal/bus"
	"lumos/internal/domain"
	"lumos/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client to server message types.
const (
	MsgHello  = "hello"  // STT, TTS, Voices: browser capabilities
	MsgVoices = "voices" // Voices: the browser's voice list changed
	MsgSubmit = "submit" // Text; empty submits the pending input
	MsgInput  = "input"  // Text: typed input (also sent server to client)
	MsgListen = "listen"
	MsgVoice  = "voice" // Enabled; absent toggles
	MsgReplay = "replay"
	MsgClose  = "close"

	MsgMicGranted = "mic.granted"
	MsgMicDenied  = "mic.denied"
	MsgSTTResult  = "stt.result"
	MsgSTTEnd     = "stt.end"
	MsgSTTError   = "stt.error"
	MsgTTSStart   = "tts.start"
	MsgTTSEnd     = "tts.end"
	MsgTTSError   = "tts.error"
)

// Server to client message types.
const (
	MsgMessage  = "message"
	MsgNavigate = "navigate"
	MsgNotice   = "notice"
	MsgState    = "state"

	MsgMicRequest = "mic.request"
	MsgSTTStart   = "stt.start"
	MsgSTTStop    = "stt.stop"
	MsgSTTAbort   = "stt.abort"
	MsgTTSSpeak   = "tts.speak"
	MsgTTSCancel  = "tts.cancel"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsMaxReadBytes = 64 << 10
)

// WSMessage is the JSON envelope exchanged in both directions.
type WSMessage struct {
	Type      string            `json:"type"`
	ID        uint64            `json:"id,omitempty"`
	Text      string            `json:"text,omitempty"`
	Message   *domain.Message   `json:"message,omitempty"`
	Target    string            `json:"target,omitempty"`
	Level     string            `json:"level,omitempty"`
	Enabled   *bool             `json:"enabled,omitempty"`
	State     *agent.Snapshot   `json:"state,omitempty"`
	Utterance *domain.Utterance `json:"utterance,omitempty"`
	Voices    []domain.Voice    `json:"voices,omitempty"`
	STT       bool              `json:"stt,omitempty"`
	TTS       bool              `json:"tts,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	Addr           string
	Path           string   // WebSocket endpoint path (default: /ws)
	AllowedOrigins []string // empty = allow all
	Factory        *agent.SessionFactory
	Limiter        *agent.RateLimiter // optional, keyed by connection
	MetricsPath    string             // empty = no metrics endpoint
	Logger         *slog.Logger
}

// WebSocket serves one chat session per connection. The browser renders
// the conversation and lends its speech recognition and synthesis to the
// session through the speech bridge.
type WebSocket struct {
	addr        string
	path        string
	metricsPath string
	factory     *agent.SessionFactory
	limiter     *agent.RateLimiter
	upgrader    websocket.Upgrader
	logger      *slog.Logger
	server      *http.Server

	mu    sync.Mutex
	conns map[string]*wsConn
}

func NewWebSocket(cfg WSConfig) *WebSocket {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Factory == nil {
		cfg.Factory = agent.NewSessionFactory(agent.FactoryConfig{Logger: cfg.Logger})
	}
	return &WebSocket{
		addr:        cfg.Addr,
		path:        cfg.Path,
		metricsPath: cfg.MetricsPath,
		factory:     cfg.Factory,
		limiter:     cfg.Limiter,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		logger: cfg.Logger,
		conns:  make(map[string]*wsConn),
	}
}

func (ws *WebSocket) Name() string { return "websocket" }

// Handler returns the HTTP routes: the socket endpoint, a health check and
// optionally the metrics endpoint.
func (ws *WebSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, ws.handleUpgrade)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "connections": ws.Len()})
	})
	if ws.metricsPath != "" {
		mux.Handle(ws.metricsPath, metrics.Handler())
	}
	return mux
}

// Start serves until ctx is cancelled, then closes every connection.
func (ws *WebSocket) Start(ctx context.Context) error {
	ws.server = &http.Server{
		Addr:              ws.addr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ws.logger.Info("websocket server starting", "addr", ws.addr, "path", ws.path)

	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ws.closeAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (ws *WebSocket) Stop() error {
	ws.closeAll()
	return nil
}

// Len returns the number of open connections.
func (ws *WebSocket) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.conns)
}

func (ws *WebSocket) closeAll() {
	ws.mu.Lock()
	conns := make([]*wsConn, 0, len(ws.conns))
	for _, c := range ws.conns {
		conns = append(conns, c)
	}
	ws.mu.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

// originChecker allows browsers from the listed origins. Requests without
// an Origin header (non-browser clients) are always allowed.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set["*"] || set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

// wsConn is one browser connection and its session.
type wsConn struct {
	id      string
	conn    *websocket.Conn
	session *agent.Session
	bridge  *speechBridge
	logger  *slog.Logger

	writeMu  sync.Mutex
	toggleMu sync.Mutex // one listen toggle at a time
}

func (c *wsConn) send(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("websocket marshal failed", "type", msg.Type, "err", err)
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Debug("websocket write failed", "type", msg.Type, "err", err)
	}
}

func (c *wsConn) sendState() {
	snap := c.session.Snapshot()
	c.send(WSMessage{Type: MsgState, State: &snap})
}

func (ws *WebSocket) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	conn.SetReadLimit(wsMaxReadBytes)

	c := &wsConn{
		id:   uuid.NewString(),
		conn: conn,
	}
	c.logger = ws.logger.With("conn", c.id)
	c.bridge = newSpeechBridge(c.send, c.logger)

	ctx, cancel := context.WithCancel(context.Background())
	events := bus.NewEventBus(c.logger)
	// The greeting is appended while the session is built.
	events.On(bus.EventMessageAppended, func(e bus.Event) {
		if m, ok := e.Payload[bus.KeyMessage].(domain.Message); ok {
			c.send(WSMessage{Type: MsgMessage, Message: &m})
		}
	})
	c.session = ws.factory.NewWithSpeech(events, c.bridge.input(), c.bridge.output())
	ws.subscribe(c, events)

	ws.mu.Lock()
	ws.conns[c.id] = c
	ws.mu.Unlock()
	c.logger.Info("websocket client connected", "session", c.session.ID(), "remote", r.RemoteAddr)

	defer func() {
		cancel()
		c.bridge.close()
		c.session.Close()
		if ws.limiter != nil {
			ws.limiter.Forget(c.id)
		}
		ws.mu.Lock()
		delete(ws.conns, c.id)
		ws.mu.Unlock()
		conn.Close()
		c.logger.Info("websocket client disconnected")
	}()

	c.sendState()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "err", err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid websocket message", "err", err)
			continue
		}
		if msg.Type == MsgClose {
			return
		}
		ws.dispatch(ctx, c, msg)
	}
}

func (ws *WebSocket) subscribe(c *wsConn, events *bus.EventBus) {
	events.On(bus.EventNavigate, func(e bus.Event) {
		target, _ := e.Payload[bus.KeyTarget].(string)
		c.send(WSMessage{Type: MsgNavigate, Target: target})
	})
	events.On(bus.EventNotice, func(e bus.Event) {
		text, _ := e.Payload[bus.KeyText].(string)
		level, _ := e.Payload[bus.KeyLevel].(string)
		c.send(WSMessage{Type: MsgNotice, Text: text, Level: level})
	})
	events.On(bus.EventInputChanged, func(e bus.Event) {
		text, _ := e.Payload[bus.KeyText].(string)
		c.send(WSMessage{Type: MsgInput, Text: text})
	})
	state := func(bus.Event) { c.sendState() }
	events.On(bus.EventVoiceInputState, state)
	events.On(bus.EventVoiceOutputState, state)
	events.On(bus.EventSpeechToggled, state)
}

func (ws *WebSocket) dispatch(ctx context.Context, c *wsConn, msg WSMessage) {
	if c.bridge.handle(msg) {
		return
	}
	switch msg.Type {
	case MsgHello:
		c.bridge.setCapabilities(msg.STT, msg.TTS, msg.Voices)
		c.sendState()
	case MsgVoices:
		c.bridge.setVoices(msg.Voices)
	case MsgInput:
		c.session.SetPendingInput(msg.Text)
	case MsgSubmit:
		ws.submit(c, msg.Text)
	case MsgListen:
		// The permission answer arrives on this read loop, so toggles run
		// off it, one after another.
		go func() {
			c.toggleMu.Lock()
			defer c.toggleMu.Unlock()
			if err := c.session.ToggleListening(ctx); err != nil {
				c.logger.Debug("voice input", "err", err)
			}
		}()
	case MsgVoice:
		if msg.Enabled == nil {
			c.session.ToggleSpeech()
		} else {
			c.session.SetSpeechEnabled(*msg.Enabled)
		}
	case MsgReplay:
		if err := c.session.Replay(msg.ID); err != nil {
			c.send(WSMessage{Type: MsgNotice, Level: bus.LevelError, Text: err.Error()})
		}
	default:
		c.logger.Debug("unknown websocket message type", "type", msg.Type)
	}
}

func (ws *WebSocket) submit(c *wsConn, text string) {
	if ws.limiter != nil && !ws.limiter.Allow(c.id) {
		metrics.RejectedSubmits.Inc()
		c.send(WSMessage{Type: MsgNotice, Level: bus.LevelError, Text: agent.NoticeThrottled})
		return
	}
	var err error
	if text == "" {
		err = c.session.SubmitPending()
	} else {
		err = c.session.Submit(text)
	}
	if err != nil && !errors.Is(err, agent.ErrEmptyInput) {
		c.send(WSMessage{Type: MsgNotice, Level: bus.LevelError, Text: err.Error()})
	}
}
