package heatzy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denis-papin/ava-home/internal/pkg/config"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(&config.HeatzyConfig{
		BaseURL:       srv.URL,
		ApplicationID: "app-id",
		Token:         "user-token",
		Timeout:       time.Second,
	})
}

func TestSetMode(t *testing.T) {
	var (
		gotPath string
		gotBody string
		gotApp  string
		gotTok  string
	)
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPath, gotBody = r.Method+" "+r.URL.Path, string(body)
		gotApp, gotTok = r.Header.Get(headerApplicationID), r.Header.Get(headerUserToken)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	require.NoError(t, s.SetMode(context.Background(), "LNENiFG0MeReR9WtxMebYB", message.ModeSTOP))
	assert.Equal(t, "POST /control/LNENiFG0MeReR9WtxMebYB", gotPath)
	assert.JSONEq(t, `{"attrs":{"mode":3}}`, gotBody)
	assert.Equal(t, "app-id", gotApp)
	assert.Equal(t, "user-token", gotTok)
}

func TestLatestMode(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/devdata/3wHa7Ja50MhfShUxcmOqvT/latest", r.URL.Path)
		_, _ = w.Write([]byte(`{"did":"3wHa7Ja50MhfShUxcmOqvT","updated_at":1700000000,"attr":{"mode":"eco"}}`))
	})

	mode, err := s.LatestMode(context.Background(), "3wHa7Ja50MhfShUxcmOqvT")
	require.NoError(t, err)
	assert.Equal(t, message.ModeECO, mode)
}

func TestUnexpectedStatus(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error_code":9004,"error_message":"token invalid!"}`))
	})

	err := s.SetMode(context.Background(), "x", message.ModeCFT)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	_, err = s.LatestMode(context.Background(), "x")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestMalformedDevData(t *testing.T) {
	s := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	})
	_, err := s.LatestMode(context.Background(), "x")
	assert.Error(t, err)
}
