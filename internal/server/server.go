// Package server serves a read-only engagement dashboard, a JSON API and
// the Prometheus metrics endpoint.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/TobiSchelling/socialshares/internal/database"
	"github.com/TobiSchelling/socialshares/internal/logging"
	"github.com/TobiSchelling/socialshares/internal/report"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

const maxLimit = 500

// Store is the read side of the snapshot store. *database.DB implements it.
type Store interface {
	TopEngagement(ctx context.Context, limit int) ([]database.TopRow, error)
	Trending(ctx context.Context, daysBack, limit int) ([]database.TrendingRow, error)
	Stats(ctx context.Context) (*database.Stats, error)
	Ping(ctx context.Context) error
}

// Options sets report defaults for the dashboard.
type Options struct {
	TopLimit int
	DaysBack int
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Server is the HTTP server for the engagement dashboard.
type Server struct {
	store Store
	opts  Options
	pages map[string]*template.Template
	mux   *http.ServeMux
	log   logging.Logger
}

// New creates a new Server.
func New(store Store, opts Options, logger logging.Logger) (*Server, error) {
	if opts.TopLimit <= 0 {
		opts.TopLimit = 20
	}
	if opts.DaysBack <= 0 {
		opts.DaysBack = 10
	}
	if logger == nil {
		logger = logging.Discard()
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"datetime": func(t *time.Time) string {
			if t == nil {
				return "never"
			}
			return t.UTC().Format("2006-01-02 15:04 UTC")
		},
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base so {{define "content"}} does not collide.
	pageNames := []string{"index.html", "trending.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{store: store, opts: opts, pages: pages, mux: http.NewServeMux(), log: logger}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /trending", s.handleTrending)
	s.mux.HandleFunc("GET /api/top", s.handleAPITop)
	s.mux.HandleFunc("GET /api/trending", s.handleAPITrending)
	s.mux.HandleFunc("GET /api/stats", s.handleAPIStats)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", s.opts.TopLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.internalError(w, "loading stats", err)
		return
	}
	rows, err := s.store.TopEngagement(r.Context(), limit)
	if err != nil {
		s.internalError(w, "loading top engagement", err)
		return
	}

	s.render(w, "index.html", map[string]any{
		"Stats": stats,
		"Table": report.TopMarkdown(rows),
	})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	days, limit, err := s.trendingParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rows, err := s.store.Trending(r.Context(), days, limit)
	if err != nil {
		s.internalError(w, "loading trending", err)
		return
	}

	s.render(w, "trending.html", map[string]any{
		"Days":  days,
		"Table": report.TrendingMarkdown(rows, days),
	})
}

func (s *Server) handleAPITop(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", s.opts.TopLimit)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := s.store.TopEngagement(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("api top")
		writeJSONError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	if rows == nil {
		rows = []database.TopRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAPITrending(w http.ResponseWriter, r *http.Request) {
	days, limit, err := s.trendingParams(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	rows, err := s.store.Trending(r.Context(), days, limit)
	if err != nil {
		s.log.WithError(err).Error("api trending")
		writeJSONError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	if rows == nil {
		rows = []database.TrendingRow{}
	}
	writeJSON(w, http.StatusOK, rows)
}

type statsResponse struct {
	Eligible        int64      `json:"eligible"`
	WithSnapshot    int64      `json:"with_snapshot"`
	MissingSnapshot int64      `json:"missing_snapshot"`
	TotalEngagement int64      `json:"total_engagement"`
	LastUpdated     *time.Time `json:"last_updated,omitempty"`
}

func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context())
	if err != nil {
		s.log.WithError(err).Error("api stats")
		writeJSONError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	writeJSON(w, http.StatusOK, statsResponse(*st))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) trendingParams(r *http.Request) (days, limit int, err error) {
	days, err = intParam(r, "days", s.opts.DaysBack)
	if err != nil {
		return 0, 0, err
	}
	limit, err = intParam(r, "limit", s.opts.TopLimit)
	return days, limit, err
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.log.WithField("template", name).Error("template not found")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.log.WithError(err).WithField("template", name).Error("rendering template")
	}
}

func (s *Server) internalError(w http.ResponseWriter, what string, err error) {
	s.log.WithError(err).Error(what)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func renderMarkdown(text string) template.HTML {
	html, err := report.MarkdownToHTML(text)
	if err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(html) //nolint: gosec
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > maxLimit {
		return 0, fmt.Errorf("%s must be an integer between 1 and %d", name, maxLimit)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Serve listens on 127.0.0.1:port until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, handler http.Handler, port int, logger logging.Logger) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", "http://"+addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
