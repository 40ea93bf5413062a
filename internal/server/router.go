package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/atdaga/skrm-server-sub000/internal/collab"
	"github.com/atdaga/skrm-server-sub000/internal/docs"
	"github.com/atdaga/skrm-server-sub000/internal/tenancy"
)

const principalContextKey = "skrm_principal_id"

var (
	errMissingTokenManager   = errors.New("token manager dependency required")
	errMissingDocsService    = errors.New("docs service dependency required")
	errMissingTenancyService = errors.New("tenancy service dependency required")
	errMissingRegistry       = errors.New("room registry dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks bearer tokens and yields the principal they belong to.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP surface to the services behind it. The room
// registry is injected here; nothing in the handler chain reaches for
// process-global state.
type Dependencies struct {
	TokenManager   TokenValidator
	DocsService    *docs.Service
	TenancyService *tenancy.Service
	Registry       *collab.Registry
	Logger         *zap.Logger
}

// NewHTTPHandler builds the router for the collaboration API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.DocsService == nil {
		return nil, errMissingDocsService
	}
	if deps.TenancyService == nil {
		return nil, errMissingTenancyService
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		docs:     deps.DocsService,
		tenancy:  deps.TenancyService,
		registry: deps.Registry,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/v1/collab/:doc_id", handler.handleCollab)

	protected := router.Group("/v1")
	protected.Use(handler.authorizeRequest)
	protected.POST("/docs", handler.handleCreateDoc)
	protected.GET("/docs/:doc_id/state", handler.handleDocState)
	protected.POST("/docs/:doc_id/compact", handler.handleCompactDoc)
	protected.DELETE("/docs/:doc_id", handler.handleDeleteDoc)
	protected.GET("/collab/rooms", handler.handleListRooms)

	return router, nil
}

type httpHandler struct {
	tokens   TokenValidator
	docs     *docs.Service
	tenancy  *tenancy.Service
	registry *collab.Registry
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createDocRequestPayload struct {
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type docResponsePayload struct {
	DocID       string `json:"doc_id"`
	OrgID       string `json:"org_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"created_by"`
}

func (h *httpHandler) handleCreateDoc(c *gin.Context) {
	principalID := c.GetString(principalContextKey)

	var request createDocRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil ||
		strings.TrimSpace(request.OrgID) == "" ||
		strings.TrimSpace(request.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.tenancy.VerifyMembership(c.Request.Context(), request.OrgID, principalID); err != nil {
		if errors.Is(err, tenancy.ErrNotMember) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		h.logger.Error("membership check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	document, err := h.docs.Create(c.Request.Context(), docs.CreateParams{
		OrgID:       request.OrgID,
		Name:        request.Name,
		Description: request.Description,
		CreatedBy:   principalID,
	})
	if err != nil {
		if errors.Is(err, docs.ErrInvalidDocument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
		h.logger.Error("document creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}

	c.JSON(http.StatusCreated, docResponsePayload{
		DocID:       document.ID,
		OrgID:       document.OrgID,
		Name:        document.Name,
		Description: document.Description,
		CreatedBy:   document.CreatedBy,
	})
}

type docStateResponsePayload struct {
	DocID       string `json:"doc_id"`
	StateB64    string `json:"state_b64"`
	UpdateCount int64  `json:"update_count"`
}

func (h *httpHandler) handleDocState(c *gin.Context) {
	store, ok := h.resolveStore(c)
	if !ok {
		return
	}

	state, err := store.CurrentState(c.Request.Context())
	if err != nil {
		h.logger.Error("state read failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state_failed"})
		return
	}
	count, err := store.UpdateCount(c.Request.Context())
	if err != nil {
		h.logger.Error("update count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "state_failed"})
		return
	}

	c.JSON(http.StatusOK, docStateResponsePayload{
		DocID:       store.DocumentID().String(),
		StateB64:    base64.StdEncoding.EncodeToString(state),
		UpdateCount: count,
	})
}

type compactResponsePayload struct {
	DocID            string `json:"doc_id"`
	CompactedRecords int    `json:"compacted_records"`
}

func (h *httpHandler) handleCompactDoc(c *gin.Context) {
	store, ok := h.resolveStore(c)
	if !ok {
		return
	}

	compacted, err := store.Compact(c.Request.Context())
	if err != nil {
		h.logger.Error("compaction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "compact_failed"})
		return
	}

	c.JSON(http.StatusOK, compactResponsePayload{
		DocID:            store.DocumentID().String(),
		CompactedRecords: compacted,
	})
}

type deleteDocResponsePayload struct {
	DocID         string `json:"doc_id"`
	PurgedUpdates int64  `json:"purged_updates"`
	RoomTornDown  bool   `json:"room_torn_down"`
}

func (h *httpHandler) handleDeleteDoc(c *gin.Context) {
	principalID := c.GetString(principalContextKey)

	store, ok := h.resolveStore(c)
	if !ok {
		return
	}
	docID := store.DocumentID()

	if err := h.docs.Delete(c.Request.Context(), docID.String(), principalID); err != nil {
		if errors.Is(err, docs.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		h.logger.Error("document deletion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	hadRoom := h.registry.HasRoom(docID)
	h.registry.Delete(c.Request.Context(), docID)

	purged, err := store.DeleteAll(c.Request.Context())
	if err != nil {
		h.logger.Error("update log purge failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}

	c.JSON(http.StatusOK, deleteDocResponsePayload{
		DocID:         docID.String(),
		PurgedUpdates: purged,
		RoomTornDown:  hadRoom,
	})
}

type roomResponsePayload struct {
	DocID        string `json:"doc_id"`
	OrgID        string `json:"org_id"`
	ChannelCount int    `json:"channel_count"`
}

func (h *httpHandler) handleListRooms(c *gin.Context) {
	rooms := h.registry.Rooms()
	payload := make([]roomResponsePayload, 0, len(rooms))
	for _, room := range rooms {
		payload = append(payload, roomResponsePayload{
			DocID:        room.DocumentID().String(),
			OrgID:        room.OrgID().String(),
			ChannelCount: room.ChannelCount(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"rooms": payload})
}

// resolveStore loads the document named in the path, checks that the caller
// belongs to its organization, and returns a store over its update log.
func (h *httpHandler) resolveStore(c *gin.Context) (*collab.UpdateStore, bool) {
	principalID := c.GetString(principalContextKey)

	docID, err := collab.NewDocumentID(c.Param("doc_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_doc_id"})
		return nil, false
	}

	document, err := h.docs.GetByID(c.Request.Context(), docID.String())
	if err != nil {
		if errors.Is(err, docs.ErrDocumentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return nil, false
		}
		h.logger.Error("document lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}

	if err := h.tenancy.VerifyMembership(c.Request.Context(), document.OrgID, principalID); err != nil {
		if errors.Is(err, tenancy.ErrNotMember) {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return nil, false
		}
		h.logger.Error("membership check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}

	orgID, err := collab.NewOrgID(document.OrgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}
	principal, err := collab.NewPrincipalID(principalID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}

	store, err := h.registry.StoreFor(docID, orgID, principal)
	if err != nil {
		h.logger.Error("store construction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return nil, false
	}
	return store, true
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(principalContextKey, subject)
	c.Next()
}
