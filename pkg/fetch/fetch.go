// Package fetch downloads a source archive into a job's working directory.
//
// Remote sources are streamed over HTTP(S); local paths are copied. Either
// way exactly one file named after the source is created in the destination
// directory, and progress is reported through [Progress].
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
	"github.com/ebi-metagenomics/cratepack/pkg/httputil"
	"github.com/ebi-metagenomics/cratepack/pkg/source"
)

// Progress receives the source being fetched, the number of bytes written
// so far and the expected total, or -1 when the size is unknown.
type Progress func(src string, written, total int64)

// Options configures a [Fetcher].
type Options struct {
	// Client performs downloads. Nil uses a client with no overall timeout
	// and httputil.DefaultResponseHeaderTimeout.
	Client *httputil.Client

	// Timeout bounds a whole download including retries. Zero disables it.
	Timeout time.Duration

	// Retries is the number of attempts for transient failures (5xx and
	// transport errors). Values below 1 mean a single attempt.
	Retries    int
	RetryDelay time.Duration

	Progress Progress
	Logger   *log.Logger
}

// Fetcher retrieves source archives.
type Fetcher struct {
	opts Options
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Client == nil {
		opts.Client = httputil.NewClient(httputil.ClientOptions{})
	}
	if opts.Retries < 1 {
		opts.Retries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Fetcher{opts: opts}
}

// Fetch stores src in destDir and returns the path of the created file.
// Every failure is reported as DOWNLOAD_FAILED; for HTTP status failures the
// cause is a *httputil.StatusError carrying the status code.
func (f *Fetcher) Fetch(ctx context.Context, src, destDir string) (string, error) {
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", apperrors.Wrap(apperrors.ErrCodeDownload, err, "create %s", destDir)
	}
	dest := filepath.Join(destDir, source.BaseName(src))

	start := time.Now()
	var (
		n   int64
		err error
	)
	if source.IsRemote(src) {
		err = httputil.Retry(ctx, f.opts.Retries, f.opts.RetryDelay, func() error {
			n, err = f.download(ctx, src, dest)
			if err != nil && httputil.IsRetryable(err) {
				f.opts.Logger.Warn("download attempt failed", "source", src, "err", err)
			}
			return err
		})
	} else {
		n, err = f.copyLocal(src, dest)
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", apperrors.Wrap(apperrors.ErrCodeDownload, err, "fetch %s", src)
	}

	f.opts.Logger.Info("fetched archive",
		"source", src,
		"size", humanize.Bytes(uint64(n)),
		"duration", time.Since(start).Round(time.Millisecond))
	return dest, nil
}

func (f *Fetcher) download(ctx context.Context, url, dest string) (int64, error) {
	resp, err := f.opts.Client.Open(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, &progressReader{r: resp.Body, src: url, total: resp.ContentLength, fn: f.opts.Progress})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		return n, httputil.Retryable(fmt.Errorf("read body: %w", err))
	}
	return n, nil
}

func (f *Fetcher) copyLocal(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	total := int64(-1)
	if info, err := in.Stat(); err == nil {
		total = info.Size()
	}

	out, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, &progressReader{r: in, src: src, total: total, fn: f.opts.Progress})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

type progressReader struct {
	r       io.Reader
	src     string
	written int64
	total   int64
	fn      Progress
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		if p.fn != nil {
			p.fn(p.src, p.written, p.total)
		}
	}
	return n, err
}

// LogProgress returns a Progress that logs at debug level every time
// another step bytes have been written. It restarts counting whenever a new
// source begins, so one Progress can serve a whole batch.
func LogProgress(logger *log.Logger, step int64) Progress {
	var (
		current string
		next    int64
	)
	return func(src string, written, total int64) {
		if src != current {
			current, next = src, step
		}
		if written < next && written != total {
			return
		}
		for next <= written {
			next += step
		}
		if total > 0 {
			logger.Debug("downloading", "source", src,
				"progress", fmt.Sprintf("%s / %s", humanize.Bytes(uint64(written)), humanize.Bytes(uint64(total))))
			return
		}
		logger.Debug("downloading", "source", src, "progress", humanize.Bytes(uint64(written)))
	}
}
