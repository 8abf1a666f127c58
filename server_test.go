package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/s3eon/b2edge/internal/config"
	"github.com/s3eon/b2edge/internal/metrics"
	"github.com/stretchr/testify/require"
)

func tConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
backends:
  eu_central: ` + backend + `
  us_east: ` + backend + `
  us_west: ` + backend + `
origins:
  eu_central: {bucket: media-eu, host: s3.eu-central-003.backblazeb2.com}
  us_east: {bucket: media-use, host: s3.us-east-005.backblazeb2.com}
  us_west: {bucket: media-usw, host: s3.us-west-004.backblazeb2.com}
location:
  locationEnv: B2EDGE_TEST_POP
`))
	require.NoError(t, err)
	return cfg
}

func TestHandler(t *testing.T) {
	var (
		mu    sync.Mutex
		hosts []string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hosts = append(hosts, r.Host)
		mu.Unlock()
		if strings.HasPrefix(r.Host, "media-eu.") {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, "object "+r.URL.Path)
	}))
	defer backend.Close()

	t.Setenv("B2EDGE_TEST_POP", "AMS")
	m := metrics.New()
	h, err := newHandler(tConfig(t, backend.URL), slog.Default(), m)
	require.NoError(t, err)
	s := httptest.NewServer(h)
	defer s.Close()

	res, err := s.Client().Get(s.URL + "/docs/readme.txt?pop=AMS&v=2")
	require.NoError(t, err)
	b, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "object /docs/readme.txt", string(b))
	require.Equal(t, "media-use.s3.us-east-005.backblazeb2.com", res.Header.Get("X-B2-Host"))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{
		"media-eu.s3.eu-central-003.backblazeb2.com",
		"media-use.s3.us-east-005.backblazeb2.com",
	}, hosts)

	for _, path := range []string{"/livez", "/readyz"} {
		res, err := s.Client().Get(s.URL + path)
		require.NoError(t, err)
		res.Body.Close()
		require.Equal(t, http.StatusOK, res.StatusCode, path)
	}

	res, err = s.Client().Get(s.URL + "/metrics")
	require.NoError(t, err)
	b, _ = io.ReadAll(res.Body)
	res.Body.Close()
	require.Contains(t, string(b), `b2edge_routed_requests_total{location="AMS",result="success"} 1`)
	require.Contains(t, string(b), `b2edge_origin_attempts_total{backend="eu_central",outcome="failure"} 1`)
}

func TestHandlerRawPaths(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		io.WriteString(w, "object "+r.URL.Path)
	}))
	defer backend.Close()

	t.Setenv("B2EDGE_TEST_POP", "AMS")
	h, err := newHandler(tConfig(t, backend.URL), slog.Default(), metrics.New())
	require.NoError(t, err)
	s := httptest.NewServer(h)
	defer s.Close()

	testdata := []struct {
		Scenario string
		Method   string
		Path     string
	}{
		{Scenario: "DoubleSlash", Method: http.MethodGet, Path: "/dir//file.txt"},
		{Scenario: "DotDot", Method: http.MethodGet, Path: "/a/../b.txt"},
		{Scenario: "Dot", Method: http.MethodGet, Path: "/a/./b.txt"},
		{Scenario: "TrailingSlash", Method: http.MethodGet, Path: "/livez/"},
		{Scenario: "ProbePathWrite", Method: http.MethodPut, Path: "/readyz"},
	}

	for _, tt := range testdata {
		t.Run(tt.Scenario, func(t *testing.T) {
			mu.Lock()
			paths = nil
			mu.Unlock()

			req, err := http.NewRequest(tt.Method, s.URL+tt.Path, nil)
			require.NoError(t, err)
			res, err := s.Client().Do(req)
			require.NoError(t, err)
			b, _ := io.ReadAll(res.Body)
			res.Body.Close()

			require.Equal(t, http.StatusOK, res.StatusCode)
			require.Equal(t, "object "+tt.Path, string(b))
			mu.Lock()
			defer mu.Unlock()
			require.Equal(t, []string{tt.Path}, paths)
		})
	}
}

func TestHandlerNotReady(t *testing.T) {
	h, err := newHandler(tConfig(t, "http://127.0.0.1:1"), slog.Default(), nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/file", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	log := setupLogging(&buf, "json", slog.LevelInfo)
	log.Debug("hidden")
	log.Info("routed", "location", "AMS")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "routed", entry["msg"])
	require.Equal(t, "AMS", entry["location"])
	require.Contains(t, entry, "ts")

	buf.Reset()
	log = setupLogging(&buf, "text", slog.LevelDebug)
	log.Debug("visible")
	require.Contains(t, buf.String(), "visible")
}
