package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecovererWritesInternalError(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/notifications/users/1", nil))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Contains(t, resp.Body.String(), `"code":"INTERNAL_ERROR"`)
}

func TestRecovererLeavesStartedResponses(t *testing.T) {
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late")
	}))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/queue", nil))

	require.Equal(t, http.StatusAccepted, resp.Code)
	require.Empty(t, strings.TrimSpace(resp.Body.String()))
}

func TestRecovererSkipsHijackedConnections(t *testing.T) {
	inner := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	handler := Recoverer(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := w.(http.Hijacker).Hijack()
		require.NoError(t, err)
		_ = conn.Close()
		panic("after upgrade")
	}))
	handler.ServeHTTP(inner, httptest.NewRequest(http.MethodGet, "/ws/notifications", nil))

	require.True(t, inner.hijacked)
	require.Empty(t, inner.Body.String())
}
