package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/atdaga/skrm-server-sub000/internal/auth"
	"github.com/atdaga/skrm-server-sub000/internal/collab"
	"github.com/atdaga/skrm-server-sub000/internal/crdt"
	"github.com/atdaga/skrm-server-sub000/internal/database"
	"github.com/atdaga/skrm-server-sub000/internal/docs"
	"github.com/atdaga/skrm-server-sub000/internal/tenancy"
)

const testSigningSecret = "test-signing-secret"

type testEnvironment struct {
	server   *httptest.Server
	tokens   *auth.TokenManager
	docs     *docs.Service
	tenancy  *tenancy.Service
	registry *collab.Registry
	db       *gorm.DB
}

func newTestEnvironment(t *testing.T) *testEnvironment {
	t.Helper()
	gin.SetMode(gin.TestMode)

	databasePath := filepath.Join(t.TempDir(), "server.db")
	db, err := database.Open(database.DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(testSigningSecret),
		Issuer:        "skrm-auth",
		Audience:      "skrm-api",
	})
	if err != nil {
		t.Fatalf("failed to build token manager: %v", err)
	}

	idProvider := collab.NewUUIDProvider()

	docsService, err := docs.NewService(docs.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build docs service: %v", err)
	}

	tenancyService, err := tenancy.NewService(tenancy.ServiceConfig{
		Database: db,
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build tenancy service: %v", err)
	}

	threshold, err := collab.NewCompactionThreshold(collab.DefaultCompactionThreshold)
	if err != nil {
		t.Fatalf("failed to build compaction threshold: %v", err)
	}

	registry, err := collab.NewRegistry(collab.RegistryConfig{
		Database:            db,
		IDProvider:          idProvider,
		CompactionThreshold: threshold,
		Logger:              zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenManager:   tokenManager,
		DocsService:    docsService,
		TenancyService: tenancyService,
		Registry:       registry,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	httpServer := httptest.NewServer(handler)
	t.Cleanup(httpServer.Close)
	t.Cleanup(func() { registry.Shutdown(context.Background()) })

	return &testEnvironment{
		server:   httpServer,
		tokens:   tokenManager,
		docs:     docsService,
		tenancy:  tenancyService,
		registry: registry,
		db:       db,
	}
}

func (env *testEnvironment) mustToken(t *testing.T, principalID string) string {
	t.Helper()
	token, _, err := env.tokens.IssueToken(principalID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (env *testEnvironment) mustMember(t *testing.T, orgID string) string {
	t.Helper()
	principalID := uuid.NewString()
	if err := env.tenancy.AddMember(context.Background(), orgID, principalID); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	return principalID
}

func (env *testEnvironment) mustDocument(t *testing.T, orgID string, createdBy string) docs.Document {
	t.Helper()
	document, err := env.docs.Create(context.Background(), docs.CreateParams{
		OrgID:     orgID,
		Name:      "doc-" + uuid.NewString(),
		CreatedBy: createdBy,
	})
	if err != nil {
		t.Fatalf("failed to create document: %v", err)
	}
	return document
}

func (env *testEnvironment) websocketURL(docID string, token string) string {
	base := strings.Replace(env.server.URL, "http://", "ws://", 1)
	return base + "/v1/collab/" + docID + "?token=" + token
}

func (env *testEnvironment) doJSON(t *testing.T, method string, path string, token string, body any) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := env.server.Client().Do(request)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { response.Body.Close() })
	return response
}

func decodeJSONBody(t *testing.T, response *http.Response, target any) {
	t.Helper()
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func mustUpdateFrame(t *testing.T, site string, clock uint64, body []byte) []byte {
	t.Helper()
	delta, err := crdt.NewDelta(site, clock, body)
	if err != nil {
		t.Fatalf("failed to build delta: %v", err)
	}
	update := crdt.EncodeUpdate([]crdt.Delta{delta})
	return append([]byte{collab.FrameUpdate}, update...)
}
