package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pliu/etoe/internal/models"
)

type staticAuth map[string]models.User

func (a staticAuth) Authenticate(token string) (models.User, bool) {
	u, ok := a[token]
	return u, ok
}

func TestAuthMiddleware(t *testing.T) {
	auth := staticAuth{"tok-123": {ID: 123, Name: "alice"}}

	// Mock next handler
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok {
			t.Error("Expected user in context")
		}
		if user.ID != 123 {
			t.Errorf("Expected userID 123, got %v", user.ID)
		}
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name           string
		target         string
		header         string
		expectedStatus int
	}{
		{
			name:           "Valid Header",
			target:         "/chats",
			header:         "tok-123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Unknown Token",
			target:         "/chats",
			header:         "tok-999",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Missing Header",
			target:         "/chats",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Query Token On WebSocket Path",
			target:         "/ws?token=tok-123",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Query Token Ignored Elsewhere",
			target:         "/chats?token=tok-123",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()

			AuthMiddleware(auth)(nextHandler).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := CORS([]string{"http://localhost:3000"})(next)

	t.Run("Allowed Origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/chats", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusTeapot, rr.Code)
		assert.Equal(t, "http://localhost:3000", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "Content-Type, Authorization", rr.Header().Get("Access-Control-Allow-Headers"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("Foreign Origin", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/chats", nil)
		req.Header.Set("Origin", "https://evil.example")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/chats/abc", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Empty(t, rr.Body.String())
		assert.Equal(t, "GET, POST, PUT, DELETE, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
	})
}

func TestOriginChecker(t *testing.T) {
	check := OriginChecker([]string{"https://etoe.vercel.app"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req), "native clients send no Origin")

	req.Header.Set("Origin", "https://etoe.vercel.app")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))
}

func TestLoggingMiddleware(t *testing.T) {
	// Mock next handler that returns 404
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	LoggingMiddleware(nil)(nextHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// MockHijacker implements http.Hijacker for testing
type MockHijacker struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (m *MockHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	m.hijacked = true
	return nil, nil, nil
}

func TestLoggingMiddleware_Hijack(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Error("ResponseWriter does not implement http.Hijacker")
			return
		}
		_, _, err := hijacker.Hijack()
		assert.NoError(t, err)
	})

	req := httptest.NewRequest("GET", "/ws", nil)
	mockWriter := &MockHijacker{ResponseRecorder: httptest.NewRecorder()}

	LoggingMiddleware(nil)(nextHandler).ServeHTTP(mockWriter, req)
	assert.True(t, mockWriter.hijacked)
}

func TestLoggingMiddleware_HijackUnsupported(t *testing.T) {
	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, err := w.(http.Hijacker).Hijack()
		assert.Error(t, err)
	})

	LoggingMiddleware(nil)(nextHandler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}
