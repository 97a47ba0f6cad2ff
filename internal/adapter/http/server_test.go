package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/indicator-etl/internal/adapter/http"
	"github.com/couchcryptid/indicator-etl/internal/cache"
	"github.com/couchcryptid/indicator-etl/internal/domain"
	"github.com/couchcryptid/indicator-etl/internal/observability"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

var gv = domain.Municipality{Code: "3127701", Name: "Governador Valadares", UF: "MG"}

type mockIndicators struct {
	refs []domain.IndicatorRef
	obs  map[string][]domain.Observation // key|source
	err  error
}

func (m *mockIndicators) Municipality() domain.Municipality { return gv }

func (m *mockIndicators) ListDistinctIndicators(_ context.Context, code string) ([]domain.IndicatorRef, error) {
	if code != gv.Code {
		return nil, fmt.Errorf("unexpected code %s", code)
	}
	return m.refs, m.err
}

func (m *mockIndicators) Query(_ context.Context, key, source string) ([]domain.Observation, error) {
	return m.obs[key+"|"+source], m.err
}

type mockResolver struct {
	snap    observability.Snapshot
	cleared []string
}

func (m *mockResolver) Stats() observability.Snapshot { return m.snap }

func (m *mockResolver) ClearCache(_ context.Context, source string) (int64, error) {
	m.cleared = append(m.cleared, source)
	return 3, nil
}

type mockCache struct{ info cache.Info }

func (m *mockCache) Info(context.Context) (cache.Info, error) { return m.info, nil }

func f64(v float64) *float64 { return &v }

func newTestServer(readyErr error) *httpadapter.Server {
	return httpadapter.NewServer(":0", httpadapter.Deps{
		Ready:      &mockReadiness{err: readyErr},
		Indicators: &mockIndicators{},
		Resolver:   &mockResolver{},
		Cache:      &mockCache{},
	}, slog.New(slog.DiscardHandler))
}

func serve(srv *httpadapter.Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("not ready yet")), http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestAllReady(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, httpadapter.AllReady{&mockReadiness{}, &mockReadiness{}}.CheckReadiness(ctx))

	err := httpadapter.AllReady{&mockReadiness{}, &mockReadiness{err: errors.New("db down")}}.CheckReadiness(ctx)
	assert.EqualError(t, err, "db down")
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil), http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestListIndicators(t *testing.T) {
	srv := httpadapter.NewServer(":0", httpadapter.Deps{
		Indicators: &mockIndicators{refs: []domain.IndicatorRef{
			{IndicatorKey: "PIB_TOTAL", Source: "IBGE", Unit: "R$ mil", Category: "Economia"},
		}},
	}, slog.New(slog.DiscardHandler))

	rec := serve(srv, http.MethodGet, "/v1/indicators")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Municipality domain.Municipality   `json:"municipality"`
		Indicators   []domain.IndicatorRef `json:"indicators"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, gv, body.Municipality)
	require.Len(t, body.Indicators, 1)
	assert.Equal(t, "PIB_TOTAL", body.Indicators[0].IndicatorKey)
}

func TestListIndicators_EmptyIsArray(t *testing.T) {
	srv := httpadapter.NewServer(":0", httpadapter.Deps{Indicators: &mockIndicators{}}, slog.New(slog.DiscardHandler))

	rec := serve(srv, http.MethodGet, "/v1/indicators")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"indicators":[]`)
}

func TestSeries(t *testing.T) {
	ind := &mockIndicators{obs: map[string][]domain.Observation{
		"POPULACAO|IBGE": {
			{IndicatorKey: "POPULACAO", Source: "IBGE", Year: 2021, Value: f64(281046)},
			{IndicatorKey: "POPULACAO", Source: "IBGE", Year: 2022, Value: f64(257171)},
		},
	}}
	srv := httpadapter.NewServer(":0", httpadapter.Deps{Indicators: ind}, slog.New(slog.DiscardHandler))

	rec := serve(srv, http.MethodGet, "/v1/indicators/POPULACAO/series?source=IBGE")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		IndicatorKey string               `json:"indicator_key"`
		Source       string               `json:"source"`
		Observations []domain.Observation `json:"observations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "POPULACAO", body.IndicatorKey)
	assert.Equal(t, "IBGE", body.Source)
	require.Len(t, body.Observations, 2)
	assert.Equal(t, 2022, body.Observations[1].Year)

	rec = serve(srv, http.MethodGet, "/v1/indicators/POPULACAO/series?source=DATASUS")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSeries_StoreErrorIs500(t *testing.T) {
	srv := httpadapter.NewServer(":0", httpadapter.Deps{
		Indicators: &mockIndicators{err: errors.New("db gone")},
	}, slog.New(slog.DiscardHandler))

	rec := serve(srv, http.MethodGet, "/v1/indicators/PIB/series")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db gone")
}

func TestResolverStats(t *testing.T) {
	res := &mockResolver{snap: observability.Snapshot{
		CacheHits:   1,
		CacheMisses: 3,
		APICalls:    4,
		TierSuccess: map[domain.Tier]uint64{domain.TierCSVFallback: 3},
	}}
	srv := httpadapter.NewServer(":0", httpadapter.Deps{
		Resolver: res,
		Cache:    &mockCache{info: cache.Info{Entries: 3, MaxEntries: 1000}},
	}, slog.New(slog.DiscardHandler))

	rec := serve(srv, http.MethodGet, "/v1/resolver/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 0.25, body["hit_rate"], 1e-9)
	assert.Equal(t, "degraded", body["status"])
	assert.InDelta(t, 4.0, body["api_calls"], 0)
	assert.Equal(t, map[string]any{"csv_fallback": 3.0}, body["tier_success"])
	assert.InDelta(t, 3.0, body["cache"].(map[string]any)["entries"], 0)
}

func TestClearCache(t *testing.T) {
	res := &mockResolver{}
	srv := httpadapter.NewServer(":0", httpadapter.Deps{Resolver: res}, slog.New(slog.DiscardHandler))

	rec := serve(srv, http.MethodDelete, "/v1/cache?source=IBGE")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"IBGE"}, res.cleared)
	assert.Contains(t, rec.Body.String(), `"removed":3`)

	rec = serve(srv, http.MethodGet, "/v1/cache")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
