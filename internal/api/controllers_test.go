package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"listing-core/internal/baseline"
	"listing-core/internal/coordinator"
	"listing-core/internal/engine"
	"listing-core/internal/events"
	"listing-core/internal/monitor"
	"listing-core/internal/notify"
	"listing-core/internal/queue"
	"listing-core/internal/settings"
	"listing-core/internal/supervisor"
	"listing-core/pkg/breaker"
	"listing-core/pkg/crypto"
	"listing-core/pkg/db"
)

const testSecret = "test-jwt-secret"

func newTestServer(t *testing.T) (*Server, *db.Database) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("MASTER_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32)))

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	keys, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}

	q, err := queue.New(t.TempDir(), 3, "test-machine:1")
	if err != nil {
		t.Fatalf("queue: %v", err)
	}

	st := settings.NewStore(database)
	retry := breaker.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	sup := supervisor.New(q, st, nil, database, notify.LogSink{}, events.NewBus(),
		monitor.NewMetrics(), breaker.New(3, time.Minute), retry,
		coordinator.DefaultConfig(), time.Minute, time.Second)

	svc := &engine.Service{
		DB:            database,
		Keys:          keys,
		Queue:         q,
		Baseline:      baseline.NewStore(database),
		Settings:      st,
		Supervisor:    sup,
		Metrics:       monitor.NewMetrics(),
		SourceBreaker: breaker.New(3, time.Minute),
		VenueBreaker:  breaker.New(3, time.Minute),
	}
	return NewServer(svc, notify.NewHub(), testSecret), database
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func registerAndLogin(t *testing.T, s *Server) (userID, token string) {
	t.Helper()
	w := doJSON(t, s, http.MethodPost, "/api/auth/register", "", gin.H{
		"email": "op@example.com", "password": "hunter22",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}
	var reg struct {
		UserID string `json:"user_id"`
	}
	json.Unmarshal(w.Body.Bytes(), &reg)

	w = doJSON(t, s, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "op@example.com", "password": "hunter22",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	json.Unmarshal(w.Body.Bytes(), &login)
	return reg.UserID, login.Token
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := doJSON(t, s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRegisterLoginAndAuthGate(t *testing.T) {
	s, _ := newTestServer(t)
	_, token := registerAndLogin(t, s)

	// No token → 401.
	w := doJSON(t, s, http.MethodGet, "/api/positions", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", w.Code)
	}

	// With token → 200.
	w = doJSON(t, s, http.MethodGet, "/api/positions", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("authenticated status = %d: %s", w.Code, w.Body.String())
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)
	registerAndLogin(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/auth/login", "", gin.H{
		"email": "op@example.com", "password": "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	_, token := registerAndLogin(t, s)

	w := doJSON(t, s, http.MethodPut, "/api/profile", token, gin.H{
		"trade_amount":      250.0,
		"leverage":          15,
		"take_profit_ratio": 1.25,
		"auto_trading":      true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/profile", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d: %s", w.Code, w.Body.String())
	}
	var got struct {
		TradeAmount     float64 `json:"trade_amount"`
		Leverage        int     `json:"leverage"`
		TakeProfitRatio float64 `json:"take_profit_ratio"`
		AutoTrading     bool    `json:"auto_trading"`
	}
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.TradeAmount != 250 || got.Leverage != 15 || got.TakeProfitRatio != 1.25 || !got.AutoTrading {
		t.Fatalf("profile = %+v", got)
	}
}

func TestProfileValidation(t *testing.T) {
	s, _ := newTestServer(t)
	_, token := registerAndLogin(t, s)

	w := doJSON(t, s, http.MethodPut, "/api/profile", token, gin.H{
		"trade_amount":      100.0,
		"leverage":          10,
		"take_profit_ratio": 0.9, // must exceed 1.0
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCredentialsStoredEncrypted(t *testing.T) {
	s, database := newTestServer(t)
	userID, token := registerAndLogin(t, s)

	w := doJSON(t, s, http.MethodPut, "/api/credentials", token, gin.H{
		"api_key": "bg-key", "api_secret": "bg-secret", "passphrase": "bg-pass",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	creds, err := database.GetCredentials(context.Background(), userID)
	if err != nil || creds == nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.APIKey == "bg-key" || creds.APISecret == "bg-secret" {
		t.Fatal("credentials stored in plaintext")
	}
}

func TestManualTradeQueuesMessage(t *testing.T) {
	s, _ := newTestServer(t)
	_, token := registerAndLogin(t, s)

	w := doJSON(t, s, http.MethodPost, "/api/trade", token, gin.H{"symbol": "safeusdt_umcbl"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", w.Code)
	}
	var status struct {
		QueueDepth int `json:"queue_depth"`
	}
	json.Unmarshal(w.Body.Bytes(), &status)
	if status.QueueDepth != 1 {
		t.Fatalf("queue depth = %d, want 1", status.QueueDepth)
	}
}
