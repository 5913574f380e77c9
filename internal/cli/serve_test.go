package cli

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	isolate(t)
	zipPath := packOne(t, "ERR1")
	dir := filepath.Dir(zipPath)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	s := &packageServer{dir: dir, logger: newLogger(&logs, log.DebugLevel)}
	srv := httptest.NewServer(s.routes())
	t.Cleanup(srv.Close)
	return srv, dir
}

func get(t *testing.T, client *http.Client, url string) (*http.Response, string) {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, string(body)
}

func TestServeRoutes(t *testing.T) {
	srv, _ := newTestServer(t)
	noRedirect := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{name: "Health", path: "/healthz", wantStatus: http.StatusOK, wantBody: "OK"},
		{name: "Index", path: "/", wantStatus: http.StatusOK, wantBody: `href="/packages/motus_ERR1/"`, wantType: "text/html"},
		{name: "Preview", path: "/packages/motus_ERR1/", wantStatus: http.StatusOK, wantBody: "mOTUs details for run ERR1", wantType: "text/html"},
		{name: "Artifact", path: "/packages/motus_ERR1/multiqc_report.html", wantStatus: http.StatusOK, wantBody: "qc", wantType: "text/html"},
		{name: "Metadata", path: "/packages/motus_ERR1/ro-crate-metadata.json", wantStatus: http.StatusOK, wantBody: `"@graph"`, wantType: "application/json"},
		{name: "Redirect", path: "/packages/motus_ERR1", wantStatus: http.StatusMovedPermanently},
		{name: "MissingMember", path: "/packages/motus_ERR1/absent.html", wantStatus: http.StatusNotFound},
		{name: "MissingPackage", path: "/packages/motus_ERR9/", wantStatus: http.StatusNotFound},
		{name: "Traversal", path: "/packages/..%2Fsecret/", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := get(t, noRedirect, srv.URL+tt.path)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantBody != "" && !strings.Contains(body, tt.wantBody) {
				t.Errorf("body missing %q:\n%s", tt.wantBody, body)
			}
			if tt.wantType != "" && !strings.HasPrefix(resp.Header.Get("Content-Type"), tt.wantType) {
				t.Errorf("Content-Type = %q, want %s", resp.Header.Get("Content-Type"), tt.wantType)
			}
		})
	}
}

func TestServeIndexSkipsOtherFiles(t *testing.T) {
	srv, _ := newTestServer(t)
	_, body := get(t, http.DefaultClient, srv.URL+"/")
	if strings.Contains(body, "notes") {
		t.Errorf("index should list only zips:\n%s", body)
	}
}

func TestServeEmptyDirectory(t *testing.T) {
	s := &packageServer{dir: t.TempDir(), logger: newLogger(io.Discard, log.InfoLevel)}
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "No packages yet") {
		t.Errorf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
