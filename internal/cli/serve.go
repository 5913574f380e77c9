package cli

import (
	"bytes"
	"context"
	"errors"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/ebi-metagenomics/cratepack/pkg/archive"
	"github.com/ebi-metagenomics/cratepack/pkg/buildinfo"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
)

const defaultServeAddr = "127.0.0.1:8080"

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve <directory>",
		Short: "Browse produced packages over HTTP",
		Long: `Serve every package zip in directory. The index page links to each
package's preview; the preview's artifact links resolve to the files inside
the same zip, so nothing has to be unpacked.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
				return apperrors.New(apperrors.ErrCodeInvalidInput, "%s is not a directory", dir)
			}
			logger := loggerFromContext(cmd.Context())
			srv := &packageServer{dir: dir, logger: logger}
			printInfo(cmd.ErrOrStderr(), "Serving %s on http://%s", dir, addr)
			return srv.ListenAndServe(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "listen address")
	return cmd
}

// packageServer serves the package zips in one directory.
type packageServer struct {
	dir    string
	logger *log.Logger
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *packageServer) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		defer close(idleConnsClosed)
		<-ctx.Done()
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown", "err", err)
		}
	}()

	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-idleConnsClosed
	return ctx.Err()
}

func (s *packageServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/", s.handleIndex)
	r.Get("/packages/{name}", s.handlePackageRoot)
	r.Get("/packages/{name}/*", s.handleMember)
	return r
}

// logRequests logs each request at debug level once it completes.
func (s *packageServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).Round(time.Microsecond),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *packageServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// packageEntry is one row of the index page.
type packageEntry struct {
	Name     string
	Size     string
	Modified string
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
{{- if .Packages}}
<table>
<tr><th>Package</th><th>Size</th><th>Modified</th></tr>
{{- range .Packages}}
<tr><td><a href="/packages/{{.Name}}/">{{.Name}}</a></td><td>{{.Size}}</td><td>{{.Modified}}</td></tr>
{{- end}}
</table>
{{- else}}
<p>No packages yet.</p>
{{- end}}
</body>
</html>
`))

func (s *packageServer) handleIndex(w http.ResponseWriter, _ *http.Request) {
	pkgs, err := s.packages()
	if err != nil {
		s.logger.Error("list packages", "dir", s.dir, "err", err)
		http.Error(w, "cannot list packages", http.StatusInternalServerError)
		return
	}

	data := struct {
		Title    string
		Packages []packageEntry
	}{Title: buildinfo.Name + " packages", Packages: pkgs}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("render index", "err", err)
	}
}

// packages lists the finished zips in the served directory by name.
func (s *packageServer) packages() ([]packageEntry, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []packageEntry
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".zip" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, packageEntry{
			Name:     strings.TrimSuffix(e.Name(), ".zip"),
			Size:     formatBytes(info.Size()),
			Modified: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

// handlePackageRoot redirects to the trailing-slash form so the preview's
// relative links resolve inside the package.
func (s *packageServer) handlePackageRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, r.URL.Path+"/", http.StatusMovedPermanently)
}

// handleMember serves one file from inside {name}.zip; the package root
// serves the preview page.
func (s *packageServer) handleMember(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := apperrors.ValidateLabel(name); err != nil {
		http.Error(w, "invalid package name", http.StatusBadRequest)
		return
	}

	member := chi.URLParam(r, "*")
	if member == "" {
		member = crate.PreviewFile
	}

	data, err := archive.ReadMember(filepath.Join(s.dir, name+".zip"), member)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.NotFound(w, r)
		return
	case err != nil:
		s.logger.Error("read package member", "package", name, "member", member, "err", err)
		http.Error(w, "cannot read package", http.StatusInternalServerError)
		return
	}

	http.ServeContent(w, r, member, time.Time{}, bytes.NewReader(data))
}
