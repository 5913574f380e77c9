// Package archive unpacks source tar.gz archives and writes the final zip
// package.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/gzip"

	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
)

// ErrUnsafePath is the cause reported when a tar member would be written
// outside the destination directory.
var ErrUnsafePath = errors.New("member path escapes destination")

// Extractor unpacks gzip-compressed tar archives.
type Extractor struct {
	Logger *log.Logger
}

// Extract unpacks archivePath into destDir, preserving member paths, and
// returns the number of files written. Directory members are created;
// symlinks, hardlinks and device nodes are skipped. Every failure, including
// a member whose path escapes destDir, is EXTRACTION_FAILED.
func (x *Extractor) Extract(ctx context.Context, archivePath, destDir string) (int, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "open %s", archivePath)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "read %s", archivePath)
	}
	defer gz.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "create %s", destDir)
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "resolve %s", destDir)
	}

	tr := tar.NewReader(gz)
	files := 0
	for {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return files, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "read %s", archivePath)
		}

		target, err := memberPath(root, hdr.Name)
		if err != nil {
			return files, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "member %q", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "create %s", hdr.Name)
			}
		case tar.TypeReg:
			if err := writeMember(tr, target, hdr.FileInfo().Mode().Perm()); err != nil {
				return files, apperrors.Wrap(apperrors.ErrCodeExtraction, err, "write %s", hdr.Name)
			}
			files++
		default:
			x.logger().Debug("skipping tar member", "name", hdr.Name, "type", string(hdr.Typeflag))
		}
	}
	return files, nil
}

func (x *Extractor) logger() *log.Logger {
	if x.Logger == nil {
		return log.NewWithOptions(io.Discard, log.Options{})
	}
	return x.Logger
}

// memberPath resolves name under root, rejecting absolute names and any
// name that climbs out of root.
func memberPath(root, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: absolute path", ErrUnsafePath)
	}
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", ErrUnsafePath
	}
	return target, nil
}

func writeMember(r io.Reader, target string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm|0o200)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
