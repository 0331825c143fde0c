package dns

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_NotFoundMapsToSentinels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.GetPool(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPoolNotFound)
	_, err = c.GetRecord(context.Background(), "missing.example.com")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestHTTPClient_SendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"answer":"203.0.113.10"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret")
	answer, err := c.ResolveAnswer(context.Background(), "app.example.com")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", answer)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestHTTPClient_ErrorBodyIsBounded(t *testing.T) {
	huge := strings.Repeat("x", 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(huge))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "")
	_, err := c.GetRecord(context.Background(), "app.example.com")
	require.Error(t, err)

	var se *statusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.code)
	assert.Len(t, se.body, maxErrorBody)
}
