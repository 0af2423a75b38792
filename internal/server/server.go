// Package server previews the last written energy report on localhost.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server serves the report and its chart images from the output directory.
type Server struct {
	dir        string
	reportName string
	pages      map[string]*template.Template
	mux        *http.ServeMux
	logger     *zap.Logger
}

// New creates a new Server for the report named reportName inside dir.
func New(dir, reportName string, logger *zap.Logger) (*Server, error) {
	base, err := template.New("base.html").ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	pageNames := []string{"missing.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		dir:        dir,
		reportName: reportName,
		pages:      pages,
		mux:        http.NewServeMux(),
		logger:     logger,
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleIndex)
}

// handleIndex serves the report at "/" and at its own name, and the PNG
// charts it references by bare file name. Nothing else in the directory is
// exposed.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clean := path.Clean(r.URL.Path)
	switch {
	case clean == "/" || clean == "/"+s.reportName:
		s.serveReport(w, r)
	case path.Dir(clean) == "/" && path.Ext(clean) == ".png":
		s.serveFile(w, r, path.Base(clean))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveReport(w http.ResponseWriter, r *http.Request) {
	reportPath := filepath.Join(s.dir, s.reportName)
	if _, err := os.Stat(reportPath); errors.Is(err, os.ErrNotExist) {
		w.WriteHeader(http.StatusNotFound)
		s.render(w, "missing.html", map[string]any{"Path": reportPath})
		return
	}
	s.serveFile(w, r, s.reportName)
}

func (s *Server) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	p := filepath.Join(s.dir, name)
	if _, err := os.Stat(p); err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, p)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		s.logger.Error("Template not found", zap.String("template", name))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.ExecuteTemplate(w, "base.html", data); err != nil {
		s.logger.Error("Error rendering template", zap.String("template", name), zap.Error(err))
	}
}

// Serve starts the HTTP server on the given port and shuts it down when ctx
// is cancelled.
func Serve(ctx context.Context, dir, reportName string, port int, logger *zap.Logger) error {
	srv, err := New(dir, reportName, logger)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("url", "http://"+addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}
