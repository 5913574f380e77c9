package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	"github.com/ebi-metagenomics/cratepack/pkg/archive"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	"github.com/ebi-metagenomics/cratepack/pkg/discover"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
	"github.com/ebi-metagenomics/cratepack/pkg/observability"
)

var fullRun = map[string]string{
	"qc/multiqc/multiqc_report.html": "<html>qc</html>",
	"taxonomy/LSU/krona.html":        "<html>lsu</html>",
	"taxonomy/SSU/krona.html":        "<html>ssu</html>",
}

// tarGz builds an archive whose members live under a top-level folder
// named id.
func tarGz(t *testing.T, id string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		body := files[name]
		hdr := &tar.Header{Name: id + "/" + name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, dir, id string, files map[string]string) string {
	t.Helper()
	p := filepath.Join(dir, id+".tar.gz")
	if err := os.WriteFile(p, tarGz(t, id, files), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestRunner(t *testing.T, dest string, mutate func(*Options)) *Runner {
	t.Helper()
	opts := Options{
		Destination: dest,
		Now:         func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) },
		NewActionID: func() string { return "#run" },
	}
	if mutate != nil {
		mutate(&opts)
	}
	r, err := NewRunner(opts)
	if err != nil {
		t.Fatalf("NewRunner() error: %v", err)
	}
	return r
}

type recordingHooks struct {
	observability.NoopPipelineHooks
	stages []string
}

func (h *recordingHooks) OnStageStart(_ context.Context, _, stage string) {
	h.stages = append(h.stages, stage)
}

func TestRunTemplateEndToEnd(t *testing.T) {
	archiveData := tarGz(t, "ERR1", fullRun)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/ERR1.tar.gz" {
			http.NotFound(w, r)
			return
		}
		w.Write(archiveData)
	}))
	defer srv.Close()

	hooks := &recordingHooks{}
	observability.Register(observability.Hooks{Pipeline: hooks})
	defer observability.Reset()

	dest := filepath.Join(t.TempDir(), "out")
	r := newTestRunner(t, dest, nil)

	job, err := r.Run(context.Background(), srv.URL+"/runs/ERR1.tar.gz")
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if job.Stage != StageCleaned {
		t.Errorf("Stage = %s, want CLEANED", job.Stage)
	}
	if job.PackagePath != filepath.Join(dest, "motus_ERR1.zip") {
		t.Errorf("PackagePath = %s", job.PackagePath)
	}

	wantStages := []string{"FETCHED", "EXTRACTED", "DISCOVERED", "TRANSFORMED", "GRAPH_BUILT", "RENDERED", "PACKAGED", "CLEANED"}
	if diff := cmp.Diff(wantStages, hooks.stages); diff != "" {
		t.Errorf("stage order mismatch (-want +got):\n%s", diff)
	}

	members, err := archive.Members(job.PackagePath)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(members)
	wantMembers := []string{"krona_LSU.html", "krona_SSU.html", "multiqc_report.html", "ro-crate-metadata.json", "ro-crate-preview.html"}
	if diff := cmp.Diff(wantMembers, members); diff != "" {
		t.Errorf("package members mismatch (-want +got):\n%s", diff)
	}

	data, err := archive.ReadMember(job.PackagePath, crate.MetadataFile)
	if err != nil {
		t.Fatal(err)
	}
	g, err := crate.ReadGraph(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 8 {
		t.Errorf("graph nodes = %d, want 8", g.Len())
	}

	page, err := archive.ReadMember(job.PackagePath, crate.PreviewFile)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(page), "<li><a "); got != 3 {
		t.Errorf("preview links = %d, want 3", got)
	}

	krona, err := archive.ReadMember(job.PackagePath, "krona_LSU.html")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(string(krona), "<html>lsu</html>") || !strings.HasPrefix(string(krona), "<script>") {
		t.Errorf("krona_LSU.html not decorated: %q", krona)
	}

	if _, err := os.Stat(job.WorkDir); !os.IsNotExist(err) {
		t.Errorf("work dir still exists: %v", err)
	}
	if _, err := os.Stat(filepath.Join(job.OutputDir, "krona_SSU.html")); err != nil {
		t.Errorf("output dir should be kept: %v", err)
	}
}

func TestRunFullTree(t *testing.T) {
	src := writeArchive(t, t.TempDir(), "ERR2", fullRun)
	r := newTestRunner(t, filepath.Join(t.TempDir(), "out"), func(o *Options) { o.Mode = crate.ModeFullTree })

	job, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if _, ok := job.Graph.Node(crate.ExtractedID + "ERR2/taxonomy/LSU/krona.html"); !ok {
		t.Error("full-tree graph lacks an extracted file node")
	}
}

func TestRunLinksResolveInGraph(t *testing.T) {
	for _, mode := range []crate.Mode{crate.ModeTemplate, crate.ModeFullTree} {
		t.Run(string(mode), func(t *testing.T) {
			src := writeArchive(t, t.TempDir(), "ERR9", fullRun)
			r := newTestRunner(t, filepath.Join(t.TempDir(), "out"), func(o *Options) { o.Mode = mode })

			job, err := r.Run(context.Background(), src)
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			links := job.Links()
			if len(links) != 3 {
				t.Fatalf("Links() = %v, want 3 artifacts", links)
			}
			root, _ := job.Graph.Node(crate.RootID)
			for _, link := range links {
				if _, ok := job.Graph.Node(link); !ok {
					t.Errorf("preview link %q has no graph node", link)
				}
				if !slices.ContainsFunc(root.HasPart, func(ref crate.Ref) bool { return ref.ID == link }) {
					t.Errorf("root hasPart lacks %q", link)
				}
			}
		})
	}
}

func TestRunStrictMissingArtifacts(t *testing.T) {
	src := writeArchive(t, t.TempDir(), "ERR3", map[string]string{"other.txt": "x"})
	dest := filepath.Join(t.TempDir(), "out")
	r := newTestRunner(t, dest, func(o *Options) { o.Discovery.Policy = discover.Strict })

	job, err := r.Run(context.Background(), src)

	var se *StageError
	if !errors.As(err, &se) {
		t.Fatalf("Run() error = %v, want *StageError", err)
	}
	if se.Stage != StageDiscovered || se.JobID != "ERR3" {
		t.Errorf("StageError = %+v", se)
	}
	if !apperrors.Is(err, apperrors.ErrCodeArtifactNotFound) {
		t.Errorf("error code = %s, want ARTIFACT_NOT_FOUND", apperrors.GetCode(err))
	}
	if job.Stage != StageFailed {
		t.Errorf("Stage = %s, want FAILED", job.Stage)
	}
	if _, err := os.Stat(job.PackagePath); !os.IsNotExist(err) {
		t.Error("package written despite failure")
	}
	if _, err := os.Stat(job.WorkDir); !os.IsNotExist(err) {
		t.Error("work dir not removed after failure")
	}
}

func TestRunLenientMissingArtifacts(t *testing.T) {
	src := writeArchive(t, t.TempDir(), "ERR4", map[string]string{"other.txt": "x"})
	r := newTestRunner(t, filepath.Join(t.TempDir(), "out"), nil)

	job, err := r.Run(context.Background(), src)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	members, err := archive.Members(job.PackagePath)
	if err != nil {
		t.Fatal(err)
	}
	slices.Sort(members)
	if diff := cmp.Diff([]string{"ro-crate-metadata.json", "ro-crate-preview.html"}, members); diff != "" {
		t.Errorf("package members mismatch (-want +got):\n%s", diff)
	}
}

func TestRunDownloadFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := newTestRunner(t, filepath.Join(t.TempDir(), "out"), nil)
	_, err := r.Run(context.Background(), srv.URL+"/ERR5.tar.gz")

	var se *StageError
	if !errors.As(err, &se) || se.Stage != StageFetched {
		t.Fatalf("Run() error = %v, want FETCHED stage error", err)
	}
	if !apperrors.Is(err, apperrors.ErrCodeDownload) {
		t.Errorf("error code = %s, want DOWNLOAD_FAILED", apperrors.GetCode(err))
	}
}

func TestRunClearsStaleOutput(t *testing.T) {
	src := writeArchive(t, t.TempDir(), "ERR6", fullRun)
	dest := filepath.Join(t.TempDir(), "out")
	stale := filepath.Join(dest, "motus_ERR6", "stale.html")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(stale, []byte("old"), 0o644)

	job, err := newTestRunner(t, dest, nil).Run(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	members, _ := archive.Members(job.PackagePath)
	if slices.Contains(members, "stale.html") {
		t.Error("stale output file packaged")
	}
}

func seq(sources ...string) func(func(string, error) bool) {
	return func(yield func(string, error) bool) {
		for _, s := range sources {
			if !yield(s, nil) {
				return
			}
		}
	}
}

func TestRunAll(t *testing.T) {
	dir := t.TempDir()
	good1 := writeArchive(t, dir, "A1", fullRun)
	bad := filepath.Join(dir, "B1.tar.gz")
	if err := os.WriteFile(bad, []byte("not a tarball"), 0o644); err != nil {
		t.Fatal(err)
	}
	good2 := writeArchive(t, dir, "C1", fullRun)

	tests := []struct {
		policy        FailurePolicy
		wantSucceeded int
		wantFailed    int
	}{
		{Abort, 1, 1},
		{Continue, 2, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			r := newTestRunner(t, filepath.Join(t.TempDir(), "out"), func(o *Options) { o.OnError = tt.policy })
			res, err := r.RunAll(context.Background(), seq(good1, bad, good2))
			if err == nil {
				t.Fatal("RunAll() succeeded with a broken archive")
			}
			if len(res.Succeeded) != tt.wantSucceeded || len(res.Failed) != tt.wantFailed {
				t.Errorf("succeeded=%d failed=%d, want %d/%d",
					len(res.Succeeded), len(res.Failed), tt.wantSucceeded, tt.wantFailed)
			}
			if res.Failed[0].JobID != "B1" || res.Failed[0].Stage != StageExtracted {
				t.Errorf("failure = %+v", res.Failed[0])
			}
			if tt.policy == Continue && !errors.Is(err, ErrJobsFailed) {
				t.Errorf("RunAll() error = %v, want ErrJobsFailed", err)
			}
		})
	}
}

func TestRunAllDuplicateIDs(t *testing.T) {
	a := writeArchive(t, t.TempDir(), "D1", fullRun)
	b := writeArchive(t, t.TempDir(), "D1", fullRun)

	r := newTestRunner(t, filepath.Join(t.TempDir(), "out"), func(o *Options) { o.OnError = Continue })
	res, _ := r.RunAll(context.Background(), seq(a, b))
	if len(res.Succeeded) != 1 || len(res.Failed) != 1 {
		t.Fatalf("succeeded=%d failed=%d", len(res.Succeeded), len(res.Failed))
	}
	if !apperrors.Is(res.Failed[0], apperrors.ErrCodeInvalidInput) {
		t.Errorf("duplicate failure = %v", res.Failed[0])
	}
}

func TestRunAllLocatorError(t *testing.T) {
	want := apperrors.New(apperrors.ErrCodeSourceUnavailable, "index down")
	sources := func(yield func(string, error) bool) { yield("", want) }

	r := newTestRunner(t, t.TempDir(), nil)
	res, err := r.RunAll(context.Background(), sources)
	if !apperrors.Is(err, apperrors.ErrCodeSourceUnavailable) {
		t.Errorf("RunAll() error = %v", err)
	}
	if res.Total() != 0 {
		t.Errorf("Total() = %d, want 0", res.Total())
	}
}

func TestRunCanceled(t *testing.T) {
	src := writeArchive(t, t.TempDir(), "E1", fullRun)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestRunner(t, filepath.Join(t.TempDir(), "out"), nil).Run(ctx, src)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestStageTransitions(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageInit, StageFetched, true},
		{StageFetched, StageDiscovered, false},
		{StagePackaged, StageCleaned, true},
		{StageRendered, StageFailed, true},
		{StageCleaned, StageFailed, false},
		{StageFailed, StageInit, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestNewJob(t *testing.T) {
	job, err := NewJob("https://host/runs/SRR9.tar.gz", "out", "motus_")
	if err != nil {
		t.Fatal(err)
	}
	want := Job{
		Source:      "https://host/runs/SRR9.tar.gz",
		ID:          "SRR9",
		WorkDir:     filepath.Join("out_temp", "SRR9"),
		ArchivePath: filepath.Join("out_temp", "SRR9", "SRR9.tar.gz"),
		ExtractDir:  filepath.Join("out_temp", "SRR9", "extracted"),
		OutputDir:   filepath.Join("out", "motus_SRR9"),
		PackagePath: filepath.Join("out", "motus_SRR9.zip"),
		Stage:       StageInit,
	}
	if diff := cmp.Diff(want, job, cmp.AllowUnexported(crate.Graph{})); diff != "" {
		t.Errorf("NewJob() mismatch (-want +got):\n%s", diff)
	}

	if _, err := NewJob("https://host/runs/.tar.gz", "out", ""); !apperrors.Is(err, apperrors.ErrCodeInvalidInput) {
		t.Errorf("NewJob(empty id) error = %v", err)
	}
}

func TestOptionsValidation(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"NoDestination", Options{}},
		{"BadMode", Options{Destination: "out", Mode: "flat"}},
		{"BadPolicy", Options{Destination: "out", OnError: "retry"}},
		{"BadDiscovery", Options{Destination: "out", Discovery: discover.Options{Policy: "loose"}}},
		{"PrefixWithSeparator", Options{Destination: "out", Prefix: "a/b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRunner(tt.opts); !apperrors.Is(err, apperrors.ErrCodeInvalidInput) {
				t.Errorf("NewRunner() error = %v, want INVALID_INPUT", err)
			}
		})
	}
}
