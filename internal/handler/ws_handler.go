package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/service"
	ws "github.com/stemsi/exstem-cbt/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler handles the WebSocket answer stream of an exam session.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/sessions/:session_id/stream
// Upgrades to WebSocket for answer autosave and submit. Every answer goes
// through the same path as the REST endpoints.
func (h *WSHandler) SessionStream(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		return
	}

	sessionID, ok := uuidParam(c, "session_id")
	if !ok {
		return
	}

	// Ownership and state are checked before the upgrade so failures get
	// a normal HTTP error.
	sess, err := h.sessionService.Get(c.Request.Context(), user, sessionID, service.Now())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	if sess.Status.IsTerminal() {
		respondError(c, h.log, service.ErrAlreadyFinalized)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", user.ID).
		Str("session_id", sessionID.String()).
		Logger()

	wsLog.Info().Msg("Student connected")

	for {
		action, raw, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		switch action {
		case ws.ActionAnswer:
			h.handleAnswer(conn, wsLog, user, sessionID, raw)
		case ws.ActionSubmit:
			if h.handleSubmit(conn, wsLog, user, sessionID, raw) {
				return
			}
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		case "":
			ws.WriteError(conn, "INVALID_PAYLOAD", "malformed message")
		default:
			wsLog.Warn().Str("action", string(action)).Msg("Unknown action")
			ws.WriteError(conn, "INVALID_PAYLOAD", "unknown action: "+string(action))
		}
	}
}

// handleAnswer saves a single answer.
func (h *WSHandler) handleAnswer(conn *websocket.Conn, wsLog zerolog.Logger, user *model.User, sessionID uuid.UUID, raw json.RawMessage) {
	var req ws.AnswerRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		ws.WriteError(conn, "INVALID_PAYLOAD", "malformed answer")
		return
	}

	in := model.AnswerInput{
		QuestionID: req.QuestionID,
		OptionID:   req.OptionID,
		OptionIDs:  req.OptionIDs,
		Text:       req.Text,
		Structured: req.Structured,
	}
	_, err := h.sessionService.RecordAnswer(context.Background(), user, sessionID, in, req.TimeSpentDelta, service.Now())
	if err != nil {
		h.writeServiceError(conn, wsLog, err)
		return
	}

	ws.WriteTyped(conn, ws.SavedResponse{Event: ws.EventSaved, QuestionID: req.QuestionID})
}

// handleSubmit finalizes the session. It reports whether the stream is done.
func (h *WSHandler) handleSubmit(conn *websocket.Conn, wsLog zerolog.Logger, user *model.User, sessionID uuid.UUID, raw json.RawMessage) bool {
	var req ws.SubmitRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		ws.WriteError(conn, "INVALID_PAYLOAD", "malformed submit")
		return false
	}

	sess, err := h.sessionService.Submit(context.Background(), user, sessionID, model.SubmitExamRequest{
		TimeSpentSeconds: req.TimeSpentSeconds,
	}, service.Now())
	if err != nil {
		h.writeServiceError(conn, wsLog, err)
		return false
	}

	wsLog.Info().Str("status", string(sess.Status)).Msg("Session submitted over stream")

	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:         ws.EventSubmitted,
		SessionID:     sess.ID,
		Status:        string(sess.Status),
		GradingStatus: string(sess.GradingStatus),
		Score:         sess.Score,
	})
	return true
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, wsLog zerolog.Logger, err error) {
	e, ok := classify(err)
	if !ok {
		wsLog.Error().Err(err).Msg("Stream action failed")
	}
	ws.WriteError(conn, string(e.code), e.message)
}
