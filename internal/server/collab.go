package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atdaga/skrm-server-sub000/internal/collab"
	"github.com/atdaga/skrm-server-sub000/internal/docs"
	"github.com/atdaga/skrm-server-sub000/internal/tenancy"
)

// Application close codes reported to collaboration clients. They sit in the
// 4000-4999 range the websocket RFC reserves for private use.
const (
	CloseCodeBadToken        = 4001
	CloseCodeWrongOrg        = 4003
	CloseCodeUnknownDocument = 4004
)

const closeWriteTimeout = 5 * time.Second

var collabUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleCollab runs the websocket session for one document. The connection is
// upgraded before authorization so rejections reach the client as close codes
// rather than failed handshakes: bad token 4001, missing document 4004,
// wrong organization 4003.
func (h *httpHandler) handleCollab(c *gin.Context) {
	conn, err := collabUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	token := strings.TrimSpace(c.Query("token"))
	principalID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("collab token rejected", zap.Error(err))
		h.closeWithCode(conn, CloseCodeBadToken, "invalid token")
		return
	}

	docID, err := collab.NewDocumentID(c.Param("doc_id"))
	if err != nil {
		h.closeWithCode(conn, CloseCodeUnknownDocument, "unknown document")
		return
	}

	document, err := h.docs.GetByID(c.Request.Context(), docID.String())
	if err != nil {
		if errors.Is(err, docs.ErrDocumentNotFound) {
			h.closeWithCode(conn, CloseCodeUnknownDocument, "unknown document")
			return
		}
		h.logger.Error("document lookup failed", zap.Error(err))
		h.closeWithCode(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	if err := h.tenancy.VerifyMembership(c.Request.Context(), document.OrgID, principalID); err != nil {
		if errors.Is(err, tenancy.ErrNotMember) {
			h.closeWithCode(conn, CloseCodeWrongOrg, "not a member of the document organization")
			return
		}
		h.logger.Error("membership check failed", zap.Error(err))
		h.closeWithCode(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	orgID, err := collab.NewOrgID(document.OrgID)
	if err != nil {
		h.closeWithCode(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	principal, err := collab.NewPrincipalID(principalID)
	if err != nil {
		h.closeWithCode(conn, CloseCodeBadToken, "invalid token subject")
		return
	}

	room, err := h.registry.GetOrCreate(c.Request.Context(), docID, orgID, principal)
	if err != nil {
		if errors.Is(err, collab.ErrRoomOrgMismatch) {
			h.closeWithCode(conn, CloseCodeWrongOrg, "document served for another organization")
			return
		}
		h.logger.Error("room acquisition failed",
			zap.String("doc_id", docID.String()),
			zap.Error(err))
		h.closeWithCode(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}

	channel := collab.NewWebsocketChannel(conn, c.Request.URL.Path)
	if err := room.Serve(c.Request.Context(), channel); err != nil {
		if errors.Is(err, collab.ErrRoomStopped) || errors.Is(err, collab.ErrRoomNotStarted) {
			h.closeWithCode(conn, websocket.CloseGoingAway, "room unavailable")
			return
		}
		h.logger.Error("collab session failed",
			zap.String("doc_id", docID.String()),
			zap.String("principal_id", principalID),
			zap.Error(err))
	}
}

func (h *httpHandler) closeWithCode(conn *websocket.Conn, code int, reason string) {
	message := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(closeWriteTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, message, deadline); err != nil {
		h.logger.Debug("close frame write failed", zap.Error(err))
	}
}
