package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wellbot/wellbot/internal/memory"
	"github.com/wellbot/wellbot/internal/metrics"
	"github.com/wellbot/wellbot/internal/rag"
	"github.com/wellbot/wellbot/internal/session"
	wberrors "github.com/wellbot/wellbot/pkg/errors"
	"github.com/wellbot/wellbot/pkg/types"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultSendBuffer   = 64
	distillTimeout      = 60 * time.Second
	maxInboundBytes     = 1 << 20
)

// TurnRunner is the pipeline surface the handler drives. *rag.Engine
// satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, in rag.TurnInput, onToken func(string)) (string, rag.TurnMeta, error)
}

// SessionDistiller condenses a finished session into long-term memory.
// *memory.Distiller satisfies it.
type SessionDistiller interface {
	Distill(ctx context.Context, userID, sessionID string, history []types.ChatMessage) (memory.Result, string, error)
}

// ChatConfig configures the WebSocket chat endpoint.
type ChatConfig struct {
	Greeting       string
	AllowedOrigins []string
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
}

// ChatHandler upgrades /ws/chat connections and runs the turn loop. One
// goroutine reads and runs turns; a second owns all writes to the socket.
type ChatHandler struct {
	logger    *slog.Logger
	runner    TurnRunner
	distiller SessionDistiller
	sessions  session.Store
	upgrader  websocket.Upgrader
	cfg       ChatConfig
}

func NewChatHandler(runner TurnRunner, distiller SessionDistiller, sessions session.Store, cfg ChatConfig, logger *slog.Logger) *ChatHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	h := &ChatHandler{
		logger:    logger,
		runner:    runner,
		distiller: distiller,
		sessions:  sessions,
		cfg:       cfg,
	}
	allowed := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowed)
		},
	}
	return h
}

// outFrame is one unit of work for the write pump: either a payload to send
// or an instruction to close the connection.
type outFrame struct {
	payload   []byte
	closeCode int
	closeText string
}

type chatConn struct {
	conn      *websocket.Conn
	send      chan outFrame
	closeOnce sync.Once

	sessionID string
	userID    string
	distilled bool
}

func (c *chatConn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// enqueue hands a frame to the write pump. Returns false when the send buffer
// is full, which means the client stopped reading.
func (c *chatConn) enqueue(frame outFrame) bool {
	defer func() { recover() }() // send on closed channel when the conn is done
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &chatConn{conn: conn, send: make(chan outFrame, defaultSendBuffer)}
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	go h.writePump(client)
	h.readLoop(r.Context(), client)
}

func (h *ChatHandler) readLoop(ctx context.Context, client *chatConn) {
	defer func() {
		h.finishSession(client)
		client.close()
	}()

	readDeadline := h.cfg.PingInterval + h.cfg.PongTimeout
	client.conn.SetReadLimit(maxInboundBytes)
	_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(readDeadline))
	})

	h.greet(client)

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		_ = client.conn.SetReadDeadline(time.Now().Add(readDeadline))

		in := decodeChatIn(raw)
		client.sessionID = in.SessionID
		client.userID = in.UserID

		if isExit(in.Text) {
			if !client.enqueue(outFrame{payload: encodeFrame(DoneFrame{Type: FrameDone, Reason: "exit"})}) {
				h.logger.Warn("send buffer full, done frame dropped", "session_id", client.sessionID)
			}
			h.finishSession(client)
			client.enqueue(outFrame{closeCode: websocket.CloseNormalClosure})
			return
		}
		if strings.TrimSpace(in.Text) == "" {
			frame := ErrorFrame{Type: FrameError, ErrorType: wberrors.TypeMalformedInput, Message: "text is required"}
			client.enqueue(outFrame{payload: encodeFrame(frame)})
			continue
		}

		if !h.runTurn(ctx, client, in) {
			return
		}
	}
}

// runTurn executes one turn and streams its frames: tokens, then exactly one
// meta frame. Returns false when the connection should terminate. The user
// message joins history before the pipeline runs, so even a failed turn's
// utterance reaches end-of-session distillation.
func (h *ChatHandler) runTurn(ctx context.Context, client *chatConn, in ChatIn) bool {
	history, err := h.sessions.Get(ctx, in.SessionID)
	if err != nil {
		h.logger.Warn("session load failed, continuing without history", "session_id", in.SessionID, "error", err)
		history = nil
	}
	if err := h.sessions.Append(ctx, in.SessionID, types.ChatMessage{Role: types.RoleUser, Content: in.Text}); err != nil {
		h.logger.Warn("session append failed", "session_id", in.SessionID, "error", err)
	}

	onToken := func(token string) {
		client.enqueue(outFrame{payload: encodeFrame(TokenFrame{Type: FrameToken, Text: token})})
		metrics.TokenFramesSent.Inc()
	}

	reply, meta, err := h.runner.RunTurn(ctx, rag.TurnInput{
		UserID:    in.UserID,
		SessionID: in.SessionID,
		Query:     in.Text,
		History:   history,
	}, onToken)
	if err != nil {
		frame := ErrorFrame{Type: FrameError, ErrorType: errorType(err), Message: err.Error()}
		if !client.enqueue(outFrame{payload: encodeFrame(frame)}) {
			h.logger.Warn("send buffer full, error frame dropped", "session_id", in.SessionID)
		}
		client.enqueue(outFrame{closeCode: websocket.CloseInternalServerErr, closeText: "turn failed"})
		return false
	}

	if err := h.sessions.Append(ctx, in.SessionID,
		types.ChatMessage{Role: types.RoleAssistant, Content: reply},
	); err != nil {
		h.logger.Warn("session append failed", "session_id", in.SessionID, "error", err)
	}

	// Token frames are droppable under backpressure, the meta frame is not:
	// a client that missed it can no longer trust the turn boundary.
	if !client.enqueue(outFrame{payload: encodeFrame(MetaFrame{Type: FrameMeta, Retrieval: meta.Retrieval, Usage: meta.Usage})}) {
		h.logger.Warn("client stopped reading, dropping connection", "session_id", in.SessionID)
		return false
	}
	return true
}

// greet sends the opening message as a single token frame. Best effort.
func (h *ChatHandler) greet(client *chatConn) {
	if h.cfg.Greeting == "" {
		return
	}
	client.enqueue(outFrame{payload: encodeFrame(TokenFrame{Type: FrameToken, Text: h.cfg.Greeting})})
}

// finishSession distills whatever the session accumulated and clears it.
// Runs once per connection, on exit or disconnect. Distillation failures are
// logged and contained; the client never sees them.
func (h *ChatHandler) finishSession(client *chatConn) {
	if client.distilled || client.sessionID == "" {
		return
	}
	client.distilled = true

	ctx, cancel := context.WithTimeout(context.Background(), distillTimeout)
	defer cancel()

	history, err := h.sessions.Get(ctx, client.sessionID)
	if err != nil {
		h.logger.Warn("session load for distillation failed", "session_id", client.sessionID, "error", err)
		return
	}
	result, pointID, err := h.distiller.Distill(ctx, client.userID, client.sessionID, history)
	if err != nil {
		h.logger.Error("distillation failed", "session_id", client.sessionID, "error", err)
	} else {
		h.logger.Info("session finished", "session_id", client.sessionID, "result", string(result), "point_id", pointID)
	}
	if err := h.sessions.Delete(ctx, client.sessionID); err != nil {
		h.logger.Warn("session delete failed", "session_id", client.sessionID, "error", err)
	}
}

func (h *ChatHandler) writePump(client *chatConn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(h.cfg.WriteTimeout))
				return
			}
			if frame.closeCode != 0 {
				_ = client.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(frame.closeCode, frame.closeText),
					time.Now().Add(h.cfg.WriteTimeout))
				return
			}
			if frame.payload == nil {
				continue
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, frame.payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func errorType(err error) string {
	if typ := wberrors.TypeOf(err); typ != "" {
		return typ
	}
	return wberrors.TypeGeneration
}

func originAllowed(r *http.Request, allowed []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(strings.TrimSpace(a), origin) {
			return true
		}
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
