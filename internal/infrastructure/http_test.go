package infrastructure

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/krobus00/market-feed-service/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMiddlewares(t *testing.T) {
	handler := WithHTTPMiddlewares(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("request id is generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusTeapot, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	})

	t.Run("request id is propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-Id", "req-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	})

	t.Run("panic is recovered", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestHTTPMiddlewares_WebsocketUpgrade(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(WithHTTPMiddlewares(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	})))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, message, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(message))
}

func TestResolveHTTPAddr(t *testing.T) {
	previous := config.Env
	t.Cleanup(func() { config.Env = previous })

	config.Env = &config.EnvConfig{Port: map[string]string{"http": "9000"}}
	assert.Equal(t, ":9000", resolveHTTPAddr())

	t.Setenv("HTTP_PORT", "9100")
	assert.Equal(t, ":9100", resolveHTTPAddr())

	t.Setenv("HTTP_ADDR", "127.0.0.1:9200")
	assert.Equal(t, "127.0.0.1:9200", resolveHTTPAddr())
}
