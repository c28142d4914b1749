package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guaranteedesk/internal/platform/httpx"
)

func TestGatewayRoutesByResource(t *testing.T) {
	backend := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpx.RespondJSON(w, http.StatusOK, map[string]string{
				"service": name,
				"path":    r.URL.Path,
				"query":   r.URL.RawQuery,
				"actor":   r.Header.Get(httpx.ActorHeader),
			})
		}))
	}
	banks := backend("banks")
	defer banks.Close()
	guarantees := backend("guarantees")
	defer guarantees.Close()

	r := chi.NewRouter()
	require.NoError(t, mountUpstreams(r, zap.NewNop(), map[string]string{
		"banks":      banks.URL,
		"guarantees": guarantees.URL,
	}))

	tests := []struct {
		path    string
		service string
		want    string
	}{
		{"/api/v1/banks/", "banks", "/banks/"},
		{"/api/v1/guarantees/0b7f/history", "guarantees", "/guarantees/0b7f/history"},
		{"/api/v1/guarantees/?status=active", "guarantees", "/guarantees/"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set(httpx.ActorHeader, "clerk")
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tc.service, body["service"])
			assert.Equal(t, tc.want, body["path"])
			assert.Equal(t, "clerk", body["actor"])
		})
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/loans/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGatewayUpstreamDown(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()

	r := chi.NewRouter()
	require.NoError(t, mountUpstreams(r, zap.NewNop(), map[string]string{"banks": url}))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/banks/", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body httpx.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "upstream_unavailable", body.Error)
}

func TestGatewayRejectsRelativeUpstream(t *testing.T) {
	err := mountUpstreams(chi.NewRouter(), zap.NewNop(), map[string]string{"banks": "localhost:8081"})
	assert.Error(t, err)
}
