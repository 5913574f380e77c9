// Package cli implements the cratepack command-line interface.
//
// # Commands
//
//   - pack: package one source archive, or every archive under a batch root
//   - locate: print the sources a batch run would process
//   - inspect: show the provenance graph of a package
//   - serve: browse produced packages over HTTP
//   - cache: manage the directory index cache
//
// # Logging
//
// All commands log through one charmbracelet/log logger. --verbose (-v)
// lowers the level to debug; --log-file additionally writes to a rotating
// file.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ebi-metagenomics/cratepack/internal/config"
	"github.com/ebi-metagenomics/cratepack/pkg/assets"
	"github.com/ebi-metagenomics/cratepack/pkg/buildinfo"
	"github.com/ebi-metagenomics/cratepack/pkg/cache"
	"github.com/ebi-metagenomics/cratepack/pkg/httputil"
	"github.com/ebi-metagenomics/cratepack/pkg/source"
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger
	Config config.Config

	stderr     io.Writer
	configPath string
	logFile    string
	verbose    bool
	logCloser  io.Closer
}

// New creates a CLI whose logger writes to w.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		Config: config.Default(),
		stderr: w,
	}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// Close releases the log file, if one was opened.
func (c *CLI) Close() error {
	if c.logCloser != nil {
		return c.logCloser.Close()
	}
	return nil
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   buildinfo.Name,
		Short: "Package metagenomics pipeline runs as RO-Crates",
		Long: `cratepack downloads pipeline-run archives, finds their QC report and
taxonomy visualizations, describes them in an RO-Crate provenance graph and
writes one browsable zip package per run.`,
		Version:           buildinfo.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/cratepack/config.toml)")
	root.PersistentFlags().StringVar(&c.logFile, "log-file", "", "also write logs to this file (rotated)")

	root.AddCommand(c.packCommand())
	root.AddCommand(c.locateCommand())
	root.AddCommand(c.inspectCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// setup loads configuration and finishes logger wiring before any command
// runs.
func (c *CLI) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.Config = cfg

	level := LogInfo
	if c.verbose {
		level = LogDebug
	}

	logPath := c.logFile
	if logPath == "" {
		logPath = cfg.Log.File
	}
	if logPath != "" {
		w, closer := teeLogFile(c.stderr, logPath, cfg.Log)
		c.Logger = newLogger(w, level)
		c.logCloser = closer
	} else {
		c.SetLogLevel(level)
	}

	cmd.SetContext(withLogger(cmd.Context(), c.Logger))
	return nil
}

// =============================================================================
// Factories
// =============================================================================

// sourceFlags are the crawl settings shared by pack and locate.
type sourceFlags struct {
	batch   bool
	refresh bool
	noCache bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.batch, "batch", false, "treat the source as a directory (or index URL) of archives")
	cmd.Flags().BoolVar(&f.refresh, "refresh", false, "ignore cached index pages")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the index cache")
}

// openCache opens the configured index cache, or a null cache when caching
// is disabled.
func (c *CLI) openCache(ctx context.Context, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	cc, err := cache.Open(ctx, c.Config.CacheConfig())
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	return cache.Instrument(cc), nil
}

// newLocator builds a locator for root from the configuration.
func (c *CLI) newLocator(root string, f sourceFlags, cc cache.Cache) *source.Locator {
	cfg := c.Config.Index
	return source.New(root, source.Options{
		Batch:      f.batch,
		Client:     httputil.NewClient(httputil.ClientOptions{Timeout: cfg.Timeout}),
		Cache:      cc,
		CacheTTL:   c.Config.Cache.TTL,
		Refresh:    f.refresh,
		RateLimit:  cfg.RateLimit,
		Retries:    cfg.Retries,
		RetryDelay: time.Second,
		Logger:     c.Logger,
	})
}

// loadAssets returns the asset bundle from dir, or the embedded default.
func (c *CLI) loadAssets(dir string) (*assets.Bundle, error) {
	if dir == "" {
		dir = c.Config.Assets.Dir
	}
	if dir == "" {
		return assets.Default()
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("assets: %w", err)
	}
	return assets.LoadDir(dir)
}
