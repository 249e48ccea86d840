package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"github.com/gin-gonic/gin"
)

// Without redis the session middleware can never resolve a token, so
// login must refuse up front instead of issuing a token that 401s on
// every later request.
func TestLoginUnavailableWithoutSessionStore(t *testing.T) {
	if config.GetRedisDB() != nil {
		t.Skip("redis connected; this test covers the disabled-session-store path")
	}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/auth/login", loginHandler(config.GetLogger()))

	body := strings.NewReader(`{"email":"admin@example.com","password":"secret"}`)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want %d", w.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), "session store unavailable") {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}

	// Malformed input is still a 400, checked before the store.
	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d; want %d", w.Code, http.StatusBadRequest)
	}
}
