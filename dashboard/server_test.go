package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campaign-spend/models"
	"campaign-spend/services"
	"campaign-spend/storage"
	"campaign-spend/utils"
	"campaign-spend/views"
)

func buildAppData(t *testing.T, resultsHeader []string, results ...[]string) *services.AppData {
	t.Helper()
	raw := &storage.RawDatasets{
		Results: &models.RawTable{Header: resultsHeader, Rows: results},
		Advertisers: &models.RawTable{
			Header: []string{models.ColPageName, models.ColSpend},
			Rows: [][]string{
				{"BJP", "900"}, {"INC", "400"}, {"AAP", "N/A"},
				{"TMC", "300"}, {"DMK", "120"}, {"SP", "80"}, {"CPI", "10"},
			},
		},
		Locations: &models.RawTable{
			Header: []string{models.ColLocationName},
			Rows:   [][]string{{"goa"}, {"goa"}, {"kerala"}, {"uttar pradesh"}},
		},
	}
	d, err := services.BuildAppData(raw, utils.Discard())
	require.NoError(t, err)
	return d
}

func fullAppData(t *testing.T) *services.AppData {
	return buildAppData(t,
		[]string{models.ColState, models.ColSpend, models.ColPolled, models.ColPhase},
		[]string{"Goa", "100", "75.5", "1"},
		[]string{"Kerala", "250", "71", "1"},
		[]string{"Uttar Pradesh", "600", "58", "2"},
		[]string{" uttar pradesh ", "150", "61", "3"},
		[]string{"Atlantis", "20", "", "3"},
	)
}

func newTestServer(t *testing.T, d *services.AppData) (*Server, *Metrics) {
	t.Helper()
	metrics := NewMetrics()
	srv, err := NewServer(d, views.NewRegistry(), Options{ChartCacheSize: 8}, metrics, utils.Discard())
	require.NoError(t, err)
	return srv, metrics
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestIndexRedirectsToFirstView(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	rec := get(t, srv.Handler(), "/")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/views/total-spend-by-state", rec.Header().Get("Location"))
}

func TestViewPageListsAllPages(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	rec := get(t, srv.Handler(), "/views/top-parties-by-spend")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, views.AppTitle)
	for _, id := range views.All() {
		assert.Contains(t, body, `href="/views/`+id.Slug()+`"`)
	}
	assert.Contains(t, body, "<h2>Top 5 Parties by Ad Spend</h2>")
	assert.Contains(t, body, "/charts/top-parties-by-spend.svg")
	assert.Contains(t, body, "1 advertiser rows excluded")
	assert.NotContains(t, body, "<td>CPI</td>", "only the top five parties are listed")
}

func TestViewPageShowsCorrelation(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	rec := get(t, srv.Handler(), "/views/spend-turnout-by-constituency")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Correlation between ad spend and voter turnout: r = ")
}

func TestViewPageFailsPerView(t *testing.T) {
	d := buildAppData(t, []string{models.ColState, models.ColSpend}, []string{"Goa", "10"})
	srv, metrics := newTestServer(t, d)
	h := srv.Handler()

	rec := get(t, h, "/views/spend-turnout-by-phase")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "could not be computed")
	assert.Contains(t, rec.Body.String(), "Phase")

	ok := get(t, h, "/views/total-spend-by-state")
	assert.Equal(t, http.StatusOK, ok.Code, "other views keep working")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ViewErrorsTotal.WithLabelValues("spend-turnout-by-phase", "schema")))
}

func TestUnknownRoutes(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	h := srv.Handler()

	for _, target := range []string{
		"/views/nope",
		"/charts/nope.svg",
		"/charts/total-spend-by-state.gif",
		"/charts/total-spend-by-state",
		"/data/total-spend-by-state.xml",
	} {
		assert.Equal(t, http.StatusNotFound, get(t, h, target).Code, target)
	}
}

func TestChartIsCached(t *testing.T) {
	srv, metrics := newTestServer(t, fullAppData(t))
	h := srv.Handler()

	first := get(t, h, "/charts/total-spend-by-state.svg")
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "image/svg+xml", first.Header().Get("Content-Type"))
	assert.Contains(t, first.Body.String(), "<svg")

	second := get(t, h, "/charts/total-spend-by-state.svg")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())

	assert.Equal(t, 1, srv.cache.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChartCacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ChartCacheMisses))
}

func TestChartPNG(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	rec := get(t, srv.Handler(), "/charts/spend-turnout-by-phase.png")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestDataEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	h := srv.Handler()

	rec := get(t, h, "/data/total-spend-by-state.json")
	require.Equal(t, http.StatusOK, rec.Code)
	var doc storage.SummaryDoc
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "Total Ad Spend by State", doc.Title)
	assert.Equal(t, [][]string{
		{"atlantis", "20"},
		{"goa", "200"},
		{"kerala", "250"},
		{"uttar pradesh", "750"},
	}, doc.Records)

	csv := get(t, h, "/data/spend-turnout-by-phase.csv")
	require.Equal(t, http.StatusOK, csv.Code)
	lines := strings.Split(strings.TrimSpace(csv.Body.String()), "\n")
	assert.Equal(t, "Phase,Amount spent (INR),Polled (%)", lines[0])
	assert.Len(t, lines, 4)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	h := srv.Handler()

	health := get(t, h, "/healthz")
	require.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), `"merged_rows": 6`)

	get(t, h, "/views/total-spend-by-state")
	m := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, m.Code)
	body := m.Body.String()
	assert.Contains(t, body, "dashboard_merged_rows 6")
	assert.Contains(t, body, "dashboard_advertisers_dropped 1")
	assert.Contains(t, body, `dashboard_requests_total{code="200",route="/views/{slug}"} 1`)
}

func TestWrongMethodIsRejected(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/views/total-spend-by-state", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPanicBecomesServerError(t *testing.T) {
	srv, metrics := newTestServer(t, fullAppData(t))
	srv.data = nil

	rec := get(t, srv.Handler(), "/views/total-spend-by-state")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("/views/{slug}", "500")))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, _ := newTestServer(t, fullAppData(t))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
