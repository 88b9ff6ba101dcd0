package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stepdash/backend/internal/session"
	"go.uber.org/zap"
)

// WebSocket message types for the wizard command channel
const (
	// Client -> Server messages
	MsgTypePing       = "ping"
	MsgTypeState      = "wizard:state"
	MsgTypeNext       = "wizard:next"
	MsgTypePrev       = "wizard:prev"
	MsgTypeGoTo       = "wizard:goto"
	MsgTypeComplete   = "wizard:complete"
	MsgTypeIncomplete = "wizard:incomplete"
	MsgTypeReset      = "wizard:reset"
	MsgTypeData       = "wizard:data"

	// Server -> Client messages
	MsgTypeConnected = "connected"
	MsgTypeResult    = "result"
	MsgTypeEvent     = "event"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	wsWriteTimeout     = 10 * time.Second
	defaultWSReadLimit = 64 * 1024
)

// WSMessage is the envelope of every frame in both directions. Replies carry
// the ID of the command they answer.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// StepPayload addresses one step
type StepPayload struct {
	Step *int `json:"step"`
}

// WSErrorResponse is the payload of an error frame
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler serves the wizard command channel. Commands are applied
// to the session like the REST navigation routes; state events from any
// source are pushed to the client.
type WebSocketHandler struct {
	sessions  SessionManager
	upgrader  websocket.Upgrader
	readLimit int64
	log       *zap.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. readLimit caps the
// size of an incoming frame; zero uses 64KB.
func NewWebSocketHandler(sessions SessionManager, readLimit int64, log *zap.Logger) *WebSocketHandler {
	if readLimit <= 0 {
		readLimit = defaultWSReadLimit
	}
	return &WebSocketHandler{
		sessions: sessions,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// CORS is enforced by the HTTP middleware
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		readLimit: readLimit,
		log:       log,
	}
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg WSMessage) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteJSON(msg)
}

// HandleWebSocket upgrades the connection and runs the command loop
func (wsh *WebSocketHandler) HandleWebSocket(c echo.Context) error {
	sess, err := lookupSession(wsh.sessions, c)
	if err != nil {
		return err
	}

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	conn := &wsConn{ws: ws}
	defer ws.Close()
	ws.SetReadLimit(wsh.readLimit)

	log := wsh.log.With(zap.String("session", sess.ID()))
	log.Debug("websocket connected")

	events, unsubscribe := sess.Subscribe()
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			if err := conn.send(WSMessage{Type: MsgTypeEvent, Payload: mustJSON(ev)}); err != nil {
				return
			}
		}
		// Closed subscription: the session is gone or the reader stopped.
		conn.mu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
			time.Now().Add(wsWriteTimeout))
		conn.mu.Unlock()
		ws.Close()
	}()
	defer func() {
		unsubscribe()
		<-forwarded
	}()

	conn.send(WSMessage{Type: MsgTypeConnected, Payload: mustJSON(sess.State())})

	for {
		var msg WSMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("websocket read failed", zap.Error(err))
			}
			break
		}
		wsh.sessions.TouchSession(sess.ID())

		reply, errResp := wsh.dispatch(sess, msg)
		if errResp != nil {
			conn.send(WSMessage{Type: MsgTypeError, ID: msg.ID, Payload: mustJSON(errResp)})
			continue
		}
		if err := conn.send(reply); err != nil {
			break
		}
	}

	log.Debug("websocket disconnected")
	return nil
}

// dispatch applies one command and builds its reply.
func (wsh *WebSocketHandler) dispatch(sess *session.Session, msg WSMessage) (WSMessage, *WSErrorResponse) {
	result := func(v any) (WSMessage, *WSErrorResponse) {
		return WSMessage{Type: MsgTypeResult, ID: msg.ID, Payload: mustJSON(v)}, nil
	}

	switch msg.Type {
	case MsgTypePing:
		return WSMessage{Type: MsgTypePong, ID: msg.ID}, nil
	case MsgTypeState:
		return result(sess.State())
	case MsgTypeNext:
		return result(sess.NextStep())
	case MsgTypePrev:
		return result(sess.PrevStep())
	case MsgTypeReset:
		return result(sess.Reset())
	case MsgTypeGoTo, MsgTypeComplete, MsgTypeIncomplete:
		var p StepPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Step == nil {
			return WSMessage{}, &WSErrorResponse{Message: "payload must contain a step", Code: "INVALID_PAYLOAD"}
		}
		switch msg.Type {
		case MsgTypeGoTo:
			return result(sess.GoToStep(*p.Step))
		case MsgTypeComplete:
			return result(sess.MarkStepComplete(*p.Step))
		default:
			return result(sess.MarkStepIncomplete(*p.Step))
		}
	case MsgTypeData:
		var partial map[string]json.RawMessage
		if err := json.Unmarshal(msg.Payload, &partial); err != nil {
			return WSMessage{}, &WSErrorResponse{Message: "payload must be a JSON object", Code: "INVALID_PAYLOAD"}
		}
		return result(sess.MergeData(partial))
	}
	return WSMessage{}, &WSErrorResponse{Message: "Unknown message type: " + msg.Type, Code: "INVALID_TYPE"}
}

func mustJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
