// Package source turns a command-line root into the sequence of source
// archives to package.
//
// In direct mode the root is the archive. In batch mode the root is either a
// remote HTML directory index, crawled depth-first, or a local directory
// walked in lexical order.
package source

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/ebi-metagenomics/cratepack/pkg/cache"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
	"github.com/ebi-metagenomics/cratepack/pkg/httputil"
)

// ArchiveSuffix is the file suffix of a packable source archive.
const ArchiveSuffix = ".tar.gz"

// Options configures a [Locator].
type Options struct {
	// Batch enables crawling. When false the root itself is the only source.
	Batch bool

	// Client fetches index pages. Nil uses a client with httputil.DefaultTimeout.
	Client *httputil.Client

	// Cache stores fetched index pages. Nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	Refresh  bool // bypass cached pages but still store fresh ones

	// RateLimit caps index requests per second. Zero means unlimited.
	RateLimit float64

	// Retries is the number of attempts per index page for transient failures.
	Retries    int
	RetryDelay time.Duration

	Logger *log.Logger
}

// Locator yields the source archives under a root.
type Locator struct {
	root    string
	opts    Options
	limiter *rate.Limiter
}

// New creates a Locator for root.
func New(root string, opts Options) *Locator {
	if opts.Client == nil {
		opts.Client = httputil.NewClient(httputil.ClientOptions{Timeout: httputil.DefaultTimeout})
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	l := &Locator{root: root, opts: opts}
	if opts.RateLimit > 0 {
		l.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), 1)
	}
	return l
}

// Root returns the root the locator was created with.
func (l *Locator) Root() string { return l.root }

// Locate returns the located sources in order. The sequence is lazy: each
// index page is fetched only when iteration reaches it. A failure to read
// the root yields a single SOURCE_UNAVAILABLE error and ends the sequence;
// failures below the root are logged and that branch is skipped.
func (l *Locator) Locate(ctx context.Context) iter.Seq2[string, error] {
	switch {
	case !l.opts.Batch:
		return func(yield func(string, error) bool) {
			yield(l.root, nil)
		}
	case IsRemote(l.root):
		return l.crawl(ctx)
	default:
		return l.walkLocal(ctx)
	}
}

// Collect drains Locate into a slice, stopping at the first error.
func (l *Locator) Collect(ctx context.Context) ([]string, error) {
	var out []string
	for src, err := range l.Locate(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, src)
	}
	return out, nil
}

func (l *Locator) crawl(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		root := l.root
		if !strings.HasSuffix(root, "/") {
			root += "/"
		}

		visited := map[string]bool{root: true}
		stack := []Entry{{URL: root, Kind: Directory}}

		for len(stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			e := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if e.Kind == File {
				if !yield(e.URL, nil) {
					return
				}
				continue
			}

			entries, err := l.readIndex(ctx, e.URL)
			if err != nil {
				if e.URL == root {
					yield("", apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "read index %s", e.URL))
					return
				}
				if ctx.Err() != nil {
					yield("", ctx.Err())
					return
				}
				l.opts.Logger.Warn("skipping unreadable directory", "url", e.URL, "err", err)
				continue
			}

			// Push in reverse so the first listed entry is popped first.
			for i := len(entries) - 1; i >= 0; i-- {
				child := entries[i]
				if child.Kind == Directory {
					if visited[child.URL] || !strings.HasPrefix(child.URL, root) {
						continue
					}
					visited[child.URL] = true
				}
				stack = append(stack, child)
			}
		}
	}
}

func (l *Locator) readIndex(ctx context.Context, indexURL string) ([]Entry, error) {
	base, err := url.Parse(indexURL)
	if err != nil {
		return nil, err
	}

	body, err := l.fetchIndex(ctx, indexURL)
	if err != nil {
		return nil, err
	}

	entries, err := ParseIndex(body, base)
	if err != nil {
		return nil, err
	}
	l.opts.Logger.Debug("read index", "url", indexURL, "entries", len(entries))
	return entries, nil
}

func (l *Locator) fetchIndex(ctx context.Context, indexURL string) ([]byte, error) {
	key := cache.IndexKey(indexURL)
	if !l.opts.Refresh {
		if data, ok, _ := l.opts.Cache.Get(ctx, key); ok {
			l.opts.Logger.Debug("index cache hit", "url", indexURL)
			return data, nil
		}
	}

	var body []byte
	err := httputil.Retry(ctx, l.opts.Retries, l.opts.RetryDelay, func() error {
		if l.limiter != nil {
			if err := l.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var err error
		body, err = l.opts.Client.GetBytes(ctx, indexURL)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := l.opts.Cache.Set(ctx, key, body, l.opts.CacheTTL); err != nil {
		l.opts.Logger.Warn("failed to cache index", "url", indexURL, "err", err)
	}
	return body, nil
}

func (l *Locator) walkLocal(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		info, err := os.Stat(l.root)
		if err != nil {
			yield("", apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "read directory %s", l.root))
			return
		}
		if !info.IsDir() {
			yield("", apperrors.New(apperrors.ErrCodeSourceUnavailable, "%s is not a directory", l.root))
			return
		}

		stop := errors.New("stop")
		err = filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if p == l.root {
					return err
				}
				l.opts.Logger.Warn("skipping unreadable path", "path", p, "err", err)
				if d != nil && d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(d.Name(), ArchiveSuffix) {
				return nil
			}
			if !yield(p, nil) {
				return stop
			}
			return nil
		})
		switch {
		case err == nil, errors.Is(err, stop):
		case ctx.Err() != nil:
			yield("", ctx.Err())
		default:
			yield("", apperrors.Wrap(apperrors.ErrCodeSourceUnavailable, err, "walk %s", l.root))
		}
	}
}

// IsRemote reports whether source is an http(s) URL.
func IsRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// JobID derives the job identifier from a source location: the final path
// element with every extension removed, so "runs/SRR123.tar.gz" yields
// "SRR123".
func JobID(source string) string {
	name := BaseName(source)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name
}

// BaseName returns the final path element of a source location.
func BaseName(source string) string {
	if IsRemote(source) {
		if u, err := url.Parse(source); err == nil {
			return path.Base(u.Path)
		}
		return path.Base(source)
	}
	return filepath.Base(source)
}
