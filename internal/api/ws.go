package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var chatUpgrader = websocket.Upgrader{
	ReadBufferSize:  16 * 1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type wsClientMessage struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// handleChatWebsocket runs one exchange per "prompt" frame, in arrival order.
// Replies are whole turns; tokens are not streamed.
func (h *Handler) handleChatWebsocket(c *gin.Context) {
	sess := currentSession(c)

	conn, err := chatUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("chat websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()

	sendError := func(message string, detail error) {
		errMsg := gin.H{"type": "error", "error": message}
		if detail != nil {
			errMsg["detail"] = detail.Error()
		}
		if err := conn.WriteJSON(errMsg); err != nil {
			h.logger.Warnf("chat websocket write failed: %v", err)
		}
	}

	if err := conn.WriteJSON(gin.H{"type": "history", "turns": sess.Turns()}); err != nil {
		h.logger.Warnf("chat websocket write failed: %v", err)
		return
	}

	for {
		var msg wsClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warnf("chat websocket closed: %v", err)
			}
			return
		}

		switch strings.ToLower(strings.TrimSpace(msg.Type)) {
		case "", "prompt":
			turn, err := h.turns.Handle(ctx, sess, msg.Prompt)
			if err != nil {
				sendError("chat completion failed", err)
				continue
			}
			if err := conn.WriteJSON(gin.H{"type": "turn", "turn": turn}); err != nil {
				h.logger.Warnf("chat websocket write failed: %v", err)
				return
			}
		case "reset":
			sess.Reset()
			if err := conn.WriteJSON(gin.H{"type": "reset"}); err != nil {
				return
			}
		default:
			sendError("unknown message type", nil)
		}
	}
}
