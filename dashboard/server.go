// Package dashboard serves the six views over HTTP: a page per view with a
// sidebar, the rendered chart, and the underlying table as CSV or JSON.
package dashboard

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"campaign-spend/models"
	"campaign-spend/services"
	"campaign-spend/storage"
	"campaign-spend/utils"
	"campaign-spend/views"
)

//go:embed templates/page.html
var templateFS embed.FS

// pageRowLimit caps the table shown under each chart.
const pageRowLimit = 50

// Options configures a Server.
type Options struct {
	Addr            string
	ChartCacheSize  int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ChartCacheSize <= 0 {
		o.ChartCacheSize = 64
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 15 * time.Second
	}
	if o.WriteTimeout == 0 {
		o.WriteTimeout = 60 * time.Second
	}
	if o.ShutdownTimeout == 0 {
		o.ShutdownTimeout = 10 * time.Second
	}
	return o
}

// Server is the dashboard HTTP server. It only reads AppData, so it serves
// concurrent requests without locking.
type Server struct {
	data     *services.AppData
	svc      *services.InsightService
	registry *views.Registry
	charts   *ChartRenderer
	cache    *lru.Cache[string, []byte]
	metrics  *Metrics
	logger   *utils.Logger
	page     *template.Template
	opts     Options
}

// NewServer creates a Server over data. metrics may be nil.
func NewServer(data *services.AppData, registry *views.Registry, opts Options, metrics *Metrics, logger *utils.Logger) (*Server, error) {
	opts = opts.withDefaults()

	cache, err := lru.New[string, []byte](opts.ChartCacheSize)
	if err != nil {
		return nil, fmt.Errorf("dashboard: chart cache: %w", err)
	}
	page, err := template.ParseFS(templateFS, "templates/page.html")
	if err != nil {
		return nil, fmt.Errorf("dashboard: parse template: %w", err)
	}

	metrics.SetDataset(len(data.Merged.Rows), data.DroppedAdvertisers)

	return &Server{
		data:     data,
		svc:      services.NewInsightService(logger),
		registry: registry,
		charts:   NewChartRenderer(registry),
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		page:     page,
		opts:     opts,
	}, nil
}

// Handler returns the routed handler with request IDs, panic recovery and
// request logging.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/views/{slug}", s.handleView)
	r.Get("/charts/{file}", s.handleChart)
	r.Get("/data/{file}", s.handleData)
	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves on opts.Addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("dashboard: listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[dashboard] Serving %s on http://%s", views.AppTitle, ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("[dashboard] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/views/"+views.All()[0].Slug(), http.StatusFound)
}

type navItem struct {
	Slug   string
	Title  string
	Active bool
}

type pageData struct {
	AppTitle  string
	Title     string
	Slug      string
	Nav       []navItem
	Error     string
	Facts     []string
	Header    []string
	Rows      [][]string
	Total     int
	Truncated bool
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	id, err := views.Parse(chi.URLParam(r, "slug"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	data := pageData{
		AppTitle: views.AppTitle,
		Title:    s.registry.Title(id),
		Slug:     id.Slug(),
	}
	for _, v := range views.All() {
		data.Nav = append(data.Nav, navItem{Slug: v.Slug(), Title: s.registry.Title(v), Active: v == id})
	}

	status := http.StatusOK
	table, err := s.compute(id)
	if err != nil {
		status = http.StatusInternalServerError
		data.Error = err.Error()
	} else {
		data.Facts = s.facts(table)
		data.Header = table.Header()
		data.Rows = views.DisplayOrder(s.registry.Config(id), table).Records()
		data.Total = len(data.Rows)
		if len(data.Rows) > pageRowLimit {
			data.Rows = data.Rows[:pageRowLimit]
			data.Truncated = true
		}
	}

	var buf bytes.Buffer
	if err := s.page.Execute(&buf, data); err != nil {
		s.logger.Error("[dashboard] render page %s: %v", id, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// facts are the short notes shown under a chart.
func (s *Server) facts(t models.Table) []string {
	switch v := t.(type) {
	case models.StateSpendTable:
		if n := len(s.data.Merged.Unmatched); n > 0 {
			return []string{fmt.Sprintf("%d states have no matching location.", n)}
		}
	case models.PartySpendTable:
		if s.data.DroppedAdvertisers > 0 {
			return []string{fmt.Sprintf("%d advertiser rows excluded because their spend is not a number.", s.data.DroppedAdvertisers)}
		}
	case *models.ConstituencyTable:
		if v.Correlation.Valid {
			return []string{fmt.Sprintf("Correlation between ad spend and voter turnout: r = %.3f", v.Correlation.Float64)}
		}
		return []string{"Correlation between ad spend and voter turnout is undefined for this data."}
	case *models.SpendDistribution:
		out := []string{fmt.Sprintf("Min %s · Q1 %s · Median %s · Q3 %s · Max %s",
			num(v.Box.Min), num(v.Box.Q1), num(v.Box.Median), num(v.Box.Q3), num(v.Box.Max))}
		if v.Missing > 0 {
			out = append(out, fmt.Sprintf("%d rows have no ad spend.", v.Missing))
		}
		return out
	}
	return nil
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	id, format, ok := splitFile(chi.URLParam(r, "file"))
	if !ok || (format != FormatSVG && format != FormatPNG) {
		http.NotFound(w, r)
		return
	}

	key := id.Slug() + "." + format
	body, hit := s.cache.Get(key)
	s.metrics.IncCache(hit)
	if !hit {
		start := time.Now()
		table, err := s.compute(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		if err := s.charts.Render(&buf, id, table, format); err != nil {
			s.metrics.IncViewError(id.Slug(), "render")
			s.logger.Error("[dashboard] %v", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body = buf.Bytes()
		s.cache.Add(key, body)
		s.metrics.ObserveRender(id.Slug(), format, time.Since(start))
	}

	if format == FormatSVG {
		w.Header().Set("Content-Type", "image/svg+xml")
	} else {
		w.Header().Set("Content-Type", "image/png")
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(body)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	id, format, ok := splitFile(chi.URLParam(r, "file"))
	if !ok || (format != "json" && format != "csv") {
		http.NotFound(w, r)
		return
	}

	table, err := s.compute(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	summary := storage.Summary{View: id.Slug(), Title: s.registry.Title(id), Table: table}
	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		err = storage.EncodeJSON(w, storage.NewSummaryDoc(summary))
	} else {
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id.Slug()+".csv"))
		err = storage.WriteTableCSV(w, table)
	}
	if err != nil {
		s.logger.Error("[dashboard] write %s.%s: %v", id, format, err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = storage.EncodeJSON(w, map[string]any{
		"status":      "ok",
		"merged_rows": len(s.data.Merged.Rows),
	})
}

// compute runs the view's reducer and records failures.
func (s *Server) compute(id views.ID) (models.Table, error) {
	table, err := views.Compute(s.svc, s.data, id)
	if err != nil {
		s.metrics.IncViewError(id.Slug(), models.ErrorKind(err))
		s.logger.Warn("[dashboard] view %s failed: %v", id, err)
		return nil, err
	}
	return table, nil
}

// splitFile parses "<slug>.<ext>".
func splitFile(file string) (views.ID, string, bool) {
	ext := path.Ext(file)
	if ext == "" {
		return 0, "", false
	}
	id, err := views.Parse(strings.TrimSuffix(file, ext))
	if err != nil {
		return 0, "", false
	}
	return id, strings.TrimPrefix(ext, "."), true
}

// requestLogger records a request counter per route pattern and logs each
// request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.metrics.IncRequest(route, strconv.Itoa(status))
		s.logger.Debug("[http] %s %s %s %d %s", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, status, time.Since(start))
	})
}
