package httpsource

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/indicator-etl/internal/domain"
)

func newTestClient(timeout time.Duration) *Client {
	return NewClient(timeout, slog.New(slog.DiscardHandler))
}

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agregados/6579", r.URL.Path)
		assert.Equal(t, "2021", r.URL.Query().Get("periodos"))
		assert.Equal(t, "N6[3127701]", r.URL.Query().Get("localidades"))
		assert.Equal(t, "json", r.URL.Query().Get("formato"))
		assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"year":2021,"value":281046}]`))
	}))
	defer srv.Close()

	c := newTestClient(time.Second)
	body, err := c.Fetch(context.Background(), domain.FetchRequest{
		Source:   "IBGE",
		Tier:     domain.TierAPIPrimary,
		Location: srv.URL + "/agregados/6579?formato=json",
		Params:   map[string]string{"periodos": "2021", "localidades": "N6[3127701]"},
	})

	require.NoError(t, err)
	assert.JSONEq(t, `[{"year":2021,"value":281046}]`, string(body))
}

func TestFetch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(time.Second).Fetch(context.Background(), domain.FetchRequest{
		Source:   "CAGED",
		Tier:     domain.TierAPIPrimary,
		Location: srv.URL,
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
	assert.Contains(t, err.Error(), "upstream maintenance")
}

func TestFetch_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := newTestClient(50*time.Millisecond).Fetch(context.Background(), domain.FetchRequest{
		Source:   "IBGE",
		Tier:     domain.TierAPISecondary,
		Location: srv.URL,
	})
	assert.Error(t, err)
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(time.Second).Fetch(ctx, domain.FetchRequest{Location: srv.URL})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildURL(t *testing.T) {
	u, err := buildURL("https://api.example/v1/data?fixed=1", map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example/v1/data?a=1&b=2&fixed=1", u)

	u, err = buildURL("https://api.example/v1/data", nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.example/v1/data", u)

	_, err = buildURL("ftp://files.example/x.csv", nil)
	assert.Error(t, err)
}
