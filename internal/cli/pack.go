package cli

import (
	"errors"
	"fmt"
	"iter"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/ebi-metagenomics/cratepack/internal/config"
	"github.com/ebi-metagenomics/cratepack/pkg/buildinfo"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	"github.com/ebi-metagenomics/cratepack/pkg/discover"
	"github.com/ebi-metagenomics/cratepack/pkg/fetch"
	"github.com/ebi-metagenomics/cratepack/pkg/httputil"
	"github.com/ebi-metagenomics/cratepack/pkg/observability"
	"github.com/ebi-metagenomics/cratepack/pkg/pipeline"
)

// progressStep is how many downloaded bytes pass between progress log lines.
const progressStep = 10 << 20

// packFlags holds the pack-only flags. Unset flags fall back to the
// configuration.
type packFlags struct {
	sourceFlags
	interactive bool
	discovery   string
	graphMode   string
	onError     string
	prefix      string
	assets      string
	retries     int
	timeout     time.Duration
}

// packCommand creates the pack command.
func (c *CLI) packCommand() *cobra.Command {
	var f packFlags

	cmd := &cobra.Command{
		Use:   "pack <source> <destination>",
		Short: "Package pipeline-run archives as RO-Crates",
		Long: `Package a pipeline-run archive as a browsable RO-Crate zip.

The source is a .tar.gz URL or local path. With --batch it is instead a
directory, or an HTTP directory index, that is searched recursively for
archives; every archive found becomes one package in the destination.`,
		Example: `  # Package one run
  cratepack pack https://example.org/runs/SRR1.tar.gz ./crates

  # Package every run under an index, continuing past failures
  cratepack pack https://example.org/runs/ ./crates --batch --on-error continue

  # Pick runs interactively and describe every file
  cratepack pack ./runs ./crates --batch --select --graph-mode full-tree`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPack(cmd, args[0], args[1], f)
		},
	}

	f.register(cmd)
	flags := cmd.Flags()
	flags.BoolVar(&f.interactive, "select", false, "choose which located archives to package (requires --batch and a terminal)")
	flags.StringVar(&f.discovery, "discovery", "", "missing-artifact policy: strict or lenient (default from config: lenient)")
	flags.StringVar(&f.graphMode, "graph-mode", "", "graph shape: template or full-tree (default from config: template)")
	flags.StringVar(&f.onError, "on-error", "", "batch failure policy: abort or continue (default from config: abort)")
	flags.StringVar(&f.prefix, "prefix", "", "output name prefix (default from config: "+pipeline.DefaultPrefix+")")
	flags.StringVar(&f.assets, "assets", "", "directory overriding the embedded stylesheets, scripts and logo")
	flags.IntVar(&f.retries, "retries", 0, "download attempts for transient failures")
	flags.DurationVar(&f.timeout, "timeout", 0, "overall per-download timeout (0 = none)")

	_ = cmd.RegisterFlagCompletionFunc("discovery", cobra.FixedCompletions(
		[]string{string(discover.Lenient), string(discover.Strict)}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("graph-mode", cobra.FixedCompletions(
		[]string{string(crate.ModeTemplate), string(crate.ModeFullTree)}, cobra.ShellCompDirectiveNoFileComp))
	_ = cmd.RegisterFlagCompletionFunc("on-error", cobra.FixedCompletions(
		[]string{string(pipeline.Abort), string(pipeline.Continue)}, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// applyFlags layers explicitly set flags over cfg.
func (f packFlags) applyFlags(cmd *cobra.Command, cfg config.Config) (config.Config, error) {
	flags := cmd.Flags()
	if flags.Changed("discovery") {
		cfg.Discovery.Policy = f.discovery
	}
	if flags.Changed("graph-mode") {
		cfg.Graph.Mode = f.graphMode
	}
	if flags.Changed("on-error") {
		cfg.Crate.OnError = f.onError
	}
	if flags.Changed("prefix") {
		cfg.Crate.Prefix = f.prefix
	}
	if flags.Changed("assets") {
		cfg.Assets.Dir = f.assets
	}
	if flags.Changed("retries") {
		cfg.Fetch.Retries = f.retries
	}
	if flags.Changed("timeout") {
		cfg.Fetch.Timeout = f.timeout
	}
	return cfg, cfg.Validate()
}

func (c *CLI) runPack(cmd *cobra.Command, src, dest string, f packFlags) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)
	out := cmd.OutOrStdout()

	if f.interactive && !f.batch {
		return errors.New("--select requires --batch")
	}

	cfg, err := f.applyFlags(cmd, c.Config)
	if err != nil {
		return err
	}
	runner, err := c.newRunner(cfg, dest)
	if err != nil {
		return err
	}

	cc, err := c.openCache(ctx, f.noCache)
	if err != nil {
		return err
	}
	defer cc.Close()

	loc := c.newLocator(src, f.sourceFlags, cc)
	sources := loc.Locate(ctx)

	if f.interactive {
		if !isTerminal(os.Stdin) {
			return errors.New("--select needs an interactive terminal")
		}
		spinner := newSpinner(ctx, cmd.ErrOrStderr(), "Locating archives...")
		spinner.Start()
		all, err := loc.Collect(ctx)
		spinner.Stop()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			printInfo(out, "No archives found under %s", src)
			return nil
		}
		chosen, err := selectSources(all, cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		if len(chosen) == 0 {
			printInfo(out, "Nothing selected")
			return nil
		}
		sources = seqOf(chosen)
	}

	stats := observability.NewCounters()
	observability.Register(observability.Hooks{Pipeline: stats, Cache: stats, HTTP: stats})
	defer observability.Reset()

	prog := newProgress(logger)
	res, err := runner.RunAll(ctx, sources)
	logStats(logger, stats.Snapshot())
	printBatchSummary(out, res)
	if err != nil {
		return err
	}
	if res.Total() == 0 {
		printWarning(out, "No archives found under %s", src)
		return nil
	}

	prog.done(fmt.Sprintf("Packaged %d run(s)", len(res.Succeeded)))
	if len(res.Succeeded) > 0 {
		printNextStep(out, "Browse the packages", buildinfo.Name+" serve "+dest)
	}
	return nil
}

// newRunner builds a pipeline runner writing to dest from cfg.
func (c *CLI) newRunner(cfg config.Config, dest string) (*pipeline.Runner, error) {
	bundle, err := c.loadAssets(cfg.Assets.Dir)
	if err != nil {
		return nil, err
	}

	fetcher := fetch.New(fetch.Options{
		Client:     httputil.NewClient(httputil.ClientOptions{ResponseHeaderTimeout: cfg.Fetch.HeaderTimeout}),
		Timeout:    cfg.Fetch.Timeout,
		Retries:    cfg.Fetch.Retries,
		RetryDelay: cfg.Fetch.RetryDelay,
		Progress:   fetch.LogProgress(c.Logger, progressStep),
		Logger:     c.Logger,
	})

	return pipeline.NewRunner(pipeline.Options{
		Destination: dest,
		Prefix:      cfg.Crate.Prefix,
		Discovery: discover.Options{
			Policy:            discover.Policy(cfg.Discovery.Policy),
			ReportPath:        cfg.Discovery.ReportPath,
			VisualizationGlob: cfg.Discovery.VisualizationGlob,
		},
		Mode:    crate.Mode(cfg.Graph.Mode),
		Profile: cfg.Profile(),
		OnError: pipeline.FailurePolicy(cfg.Crate.OnError),
		Assets:  bundle,
		Fetcher: fetcher,
		Logger:  c.Logger,
	})
}

// logStats reports the run's request and cache totals, and at debug level
// the time spent in each stage.
func logStats(logger *log.Logger, s observability.Snapshot) {
	logger.Info("run stats",
		"requests", s.Requests,
		"request_errors", s.RequestErrors,
		"cache_hits", s.CacheHits,
		"cache_misses", s.CacheMisses)

	stages := slices.Sorted(maps.Keys(s.StageTime))
	for _, stage := range stages {
		logger.Debug("stage time", "stage", stage, "total", s.StageTime[stage].Round(time.Millisecond))
	}
}

// seqOf yields the given sources without errors.
func seqOf(sources []string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, src := range sources {
			if !yield(src, nil) {
				return
			}
		}
	}
}

// isTerminal reports whether f is attached to a character device.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
