package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
)

// Zip compresses every regular file under srcDir into a new zip at destPath,
// with member names relative to srcDir using forward slashes. It returns the
// number of files written. An existing destPath is replaced.
func Zip(ctx context.Context, srcDir, destPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeInternal, err, "create %s", filepath.Dir(destPath))
	}

	tmp := destPath + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrCodeInternal, err, "create %s", destPath)
	}

	n, err := writeZip(ctx, out, srcDir)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, apperrors.Wrap(apperrors.ErrCodeInternal, err, "package %s", srcDir)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		_ = os.Remove(tmp)
		return 0, apperrors.Wrap(apperrors.ErrCodeInternal, err, "finalize %s", destPath)
	}
	return n, nil
}

func writeZip(ctx context.Context, w io.Writer, srcDir string) (int, error) {
	zw := zip.NewWriter(w)
	n := 0

	err := filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		dst, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(p)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(dst, src); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		zw.Close()
		return 0, err
	}
	return n, zw.Close()
}

// ReadMember returns the content of name inside the zip at zipPath.
func ReadMember(zipPath, name string) ([]byte, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Members lists the file names stored in the zip at zipPath, in archive order.
func Members(zipPath string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names, nil
}
