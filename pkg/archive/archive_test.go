package archive

import (
	"archive/tar"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"

	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
)

type member struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func writeTarGz(t *testing.T, path string, members []member) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, m := range members {
		hdr := &tar.Header{Name: m.name, Mode: 0o644, Typeflag: m.typeflag, Linkname: m.linkname}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.body))
		}
		if hdr.Typeflag == tar.TypeDir {
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatal(err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestExtract(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "SRR1.tar.gz")
	writeTarGz(t, src, []member{
		{name: "SRR1/", typeflag: tar.TypeDir},
		{name: "SRR1/qc/multiqc/multiqc_report.html", body: "<html>qc</html>"},
		{name: "SRR1/taxonomy/LSU/krona.html", body: "<html>lsu</html>"},
		{name: "SRR1/link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
	})

	dest := filepath.Join(dir, "extracted")
	var x Extractor
	n, err := x.Extract(context.Background(), src, dest)
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Extract() files = %d, want 2", n)
	}

	got, err := os.ReadFile(filepath.Join(dest, "SRR1", "taxonomy", "LSU", "krona.html"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "<html>lsu</html>" {
		t.Errorf("member content = %q", got)
	}
	if _, err := os.Lstat(filepath.Join(dest, "SRR1", "link")); !errors.Is(err, fs.ErrNotExist) {
		t.Error("symlink members should be skipped")
	}
}

func TestExtractRejectsTraversal(t *testing.T) {
	tests := []string{
		"../escape.txt",
		"SRR1/../../escape.txt",
		"/abs/escape.txt",
	}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			src := filepath.Join(dir, "evil.tar.gz")
			writeTarGz(t, src, []member{{name: name, body: "x"}})

			var x Extractor
			_, err := x.Extract(context.Background(), src, filepath.Join(dir, "out"))
			if !apperrors.Is(err, apperrors.ErrCodeExtraction) {
				t.Fatalf("error = %v, want EXTRACTION_FAILED", err)
			}
			if !errors.Is(err, ErrUnsafePath) {
				t.Errorf("error should wrap ErrUnsafePath, got %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, "escape.txt")); err == nil {
				t.Error("member escaped the destination directory")
			}
		})
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.tar.gz")
	if err := os.WriteFile(src, []byte("this is not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}

	var x Extractor
	_, err := x.Extract(context.Background(), src, filepath.Join(dir, "out"))
	if !apperrors.Is(err, apperrors.ErrCodeExtraction) {
		t.Errorf("error = %v, want EXTRACTION_FAILED", err)
	}
}

func TestExtractMissingArchive(t *testing.T) {
	var x Extractor
	_, err := x.Extract(context.Background(), filepath.Join(t.TempDir(), "none.tar.gz"), t.TempDir())
	if !apperrors.Is(err, apperrors.ErrCodeExtraction) {
		t.Errorf("error = %v, want EXTRACTION_FAILED", err)
	}
}

func TestZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "motus_SRR1")
	files := map[string]string{
		"multiqc_report.html":    "qc",
		"krona_LSU.html":         "lsu",
		"ro-crate-metadata.json": "{}",
		"ro-crate-preview.html":  "preview",
	}
	for name, body := range files {
		if err := os.MkdirAll(src, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(src, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	dest := filepath.Join(dir, "motus_SRR1.zip")
	n, err := Zip(context.Background(), src, dest)
	if err != nil {
		t.Fatalf("Zip() error: %v", err)
	}
	if n != len(files) {
		t.Errorf("Zip() files = %d, want %d", n, len(files))
	}

	names, err := Members(dest)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"krona_LSU.html", "multiqc_report.html", "ro-crate-metadata.json", "ro-crate-preview.html"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("zip members mismatch (-want +got):\n%s", diff)
	}

	data, err := ReadMember(dest, "ro-crate-preview.html")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "preview" {
		t.Errorf("ReadMember() = %q", data)
	}

	if _, err := ReadMember(dest, "missing.html"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadMember(missing) error = %v, want fs.ErrNotExist", err)
	}
	if _, err := os.Stat(dest + ".partial"); !errors.Is(err, fs.ErrNotExist) {
		t.Error("temporary file should not remain")
	}
}

func TestZipNestedPathsUseSlashes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "out")
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(dir, "out.zip")
	if _, err := Zip(context.Background(), src, dest); err != nil {
		t.Fatal(err)
	}
	names, _ := Members(dest)
	if diff := cmp.Diff([]string{"sub/a.txt"}, names); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
