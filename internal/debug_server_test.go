package internal

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shm-chat/domain"

	"github.com/stretchr/testify/require"
)

func get(t *testing.T, h http.Handler, target string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	return rec.Code, string(body)
}

func TestDebugHandler_Renders_Views(t *testing.T) {
	req := require.New(t)
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sources := map[string]RowSource{
		"messages": func() ([]InspectRow, error) {
			return MessageRows([]domain.Message{
				{Author: "alice", Body: "<b>hi</b>", CreatedAt: at, Origin: domain.FromClient},
			}, 41), nil
		},
		"clients": func() ([]InspectRow, error) {
			return ClientRows([]domain.ClientRecord{{Name: "bob", LastActivity: at}}, at.Add(90*time.Second)), nil
		},
	}
	h := NewDebugHandler("/inspect", sources, []string{"messages", "clients"},
		func() map[string]any { return map[string]any{"count": 1} })

	// Given no view the first one is shown, with the body escaped
	code, body := get(t, h, "/inspect")
	req.Equal(http.StatusOK, code)
	req.Contains(body, "alice")
	req.Contains(body, "41")
	req.Contains(body, "&lt;b&gt;hi&lt;/b&gt;")
	req.Contains(body, "count: 1")

	code, body = get(t, h, "/inspect?view=clients")
	req.Equal(http.StatusOK, code)
	req.Contains(body, "bob")
	req.Contains(body, "idle 1m30s")

	code, _ = get(t, h, "/inspect?view=nope")
	req.Equal(http.StatusNotFound, code)
}

func TestDebugHandler_Shows_Source_Error(t *testing.T) {
	req := require.New(t)
	h := NewDebugHandler("/inspect", map[string]RowSource{
		"messages": func() ([]InspectRow, error) { return nil, errors.New("lock timeout") },
	}, []string{"messages"}, nil)

	code, body := get(t, h, "/inspect")

	req.Equal(http.StatusOK, code)
	req.Contains(body, "lock timeout")
	req.Contains(body, "empty")
}
