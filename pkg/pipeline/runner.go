package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ebi-metagenomics/cratepack/pkg/archive"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	"github.com/ebi-metagenomics/cratepack/pkg/discover"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
	"github.com/ebi-metagenomics/cratepack/pkg/observability"
	"github.com/ebi-metagenomics/cratepack/pkg/preview"
	"github.com/ebi-metagenomics/cratepack/pkg/transform"
)

// StageFunc performs one transition: it receives the job in its current
// stage and returns the job with that stage's fields filled in.
type StageFunc func(ctx context.Context, job Job) (Job, error)

type step struct {
	to  Stage
	run StageFunc
}

// Runner executes jobs one at a time. A Runner holds no per-job state and
// may be reused across jobs and batches.
type Runner struct {
	opts  Options
	steps []step
}

// NewRunner validates opts and creates a runner.
func NewRunner(opts Options) (*Runner, error) {
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	r := &Runner{opts: opts}
	r.steps = []step{
		{StageFetched, r.fetch},
		{StageExtracted, r.extract},
		{StageDiscovered, r.discover},
		{StageTransformed, r.transform},
		{StageGraphBuilt, r.buildGraph},
		{StageRendered, r.render},
		{StagePackaged, r.pack},
		{StageCleaned, r.cleanup},
	}
	return r, nil
}

// Options returns the runner's validated options.
func (r *Runner) Options() Options { return r.opts }

// Logger returns the runner's logger.
func (r *Runner) Logger() *log.Logger { return r.opts.Logger }

// NewJob derives the job for src under the runner's destination and prefix.
func (r *Runner) NewJob(src string) (Job, error) {
	return NewJob(src, r.opts.Destination, r.opts.Prefix)
}

// Run processes a single source to completion. On success the returned job
// is CLEANED and its package exists at PackagePath. On failure the job is
// FAILED, its WorkDir is gone and the error is a *StageError.
func (r *Runner) Run(ctx context.Context, src string) (Job, error) {
	job, err := r.NewJob(src)
	if err != nil {
		job.Stage = StageFailed
		r.opts.Logger.Error("job failed", "job", job.ID, "source", src, "stage", StageInit, "err", err)
		return job, &StageError{JobID: job.ID, Stage: StageInit, Err: err}
	}
	return r.RunJob(ctx, job)
}

// RunJob processes a job created by [Runner.NewJob].
func (r *Runner) RunJob(ctx context.Context, job Job) (Job, error) {
	logger := r.opts.Logger.With("job", job.ID)
	hooks := observability.Pipeline()
	start := time.Now()

	logger.Info("processing", "source", job.Source)
	for _, s := range r.steps {
		if !job.Stage.CanTransition(s.to) {
			err := apperrors.New(apperrors.ErrCodeInternal, "illegal transition %s -> %s", job.Stage, s.to)
			return r.fail(ctx, job, s.to, err, start)
		}
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, job, s.to, err, start)
		}

		hooks.OnStageStart(ctx, job.ID, string(s.to))
		stageStart := time.Now()
		next, err := s.run(ctx, job)
		hooks.OnStageComplete(ctx, job.ID, string(s.to), time.Since(stageStart), err)
		if err != nil {
			return r.fail(ctx, job, s.to, err, start)
		}

		next.Stage = s.to
		job = next
		logger.Debug("stage complete", "stage", s.to, "duration", time.Since(stageStart).Round(time.Millisecond))
	}

	elapsed := time.Since(start)
	hooks.OnJobComplete(ctx, job.ID, elapsed, nil)
	logger.Info("packaged", "package", job.PackagePath, "duration", elapsed.Round(time.Millisecond))
	return job, nil
}

func (r *Runner) fail(ctx context.Context, job Job, stage Stage, err error, start time.Time) (Job, error) {
	if job.WorkDir != "" {
		if rmErr := removeWorkDir(job.WorkDir); rmErr != nil {
			r.opts.Logger.Warn("cleanup failed", "job", job.ID, "dir", job.WorkDir, "err", rmErr)
		}
	}
	job.Stage = StageFailed

	observability.Pipeline().OnJobComplete(ctx, job.ID, time.Since(start), err)
	r.opts.Logger.Error("job failed", "job", job.ID, "stage", stage, "err", err)
	return job, &StageError{JobID: job.ID, Stage: stage, Err: err}
}

// removeWorkDir deletes dir and, when it was the last job directory, the
// shared "<dest>_temp" parent.
func removeWorkDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	_ = os.Remove(filepath.Dir(dir))
	return nil
}

func (r *Runner) fetch(ctx context.Context, job Job) (Job, error) {
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "create work dir")
	}
	path, err := r.opts.Fetcher.Fetch(ctx, job.Source, job.WorkDir)
	if err != nil {
		return job, err
	}
	job.ArchivePath = path
	return job, nil
}

func (r *Runner) extract(ctx context.Context, job Job) (Job, error) {
	n, err := r.opts.Extractor.Extract(ctx, job.ArchivePath, job.ExtractDir)
	if err != nil {
		return job, err
	}
	r.opts.Logger.Debug("extracted archive", "job", job.ID, "files", n)
	return job, nil
}

func (r *Runner) discover(_ context.Context, job Job) (Job, error) {
	res, err := discover.Discover(job.DiscoveryRoot(), r.opts.Discovery)
	if err != nil {
		return job, err
	}
	for _, m := range res.Missing {
		r.opts.Logger.Warn("artifact not found", "job", job.ID, "expected", m)
	}
	job.Artifacts = res
	return job, nil
}

func (r *Runner) transform(_ context.Context, job Job) (Job, error) {
	// Start from an empty directory so nothing stale ends up in the package.
	if err := os.RemoveAll(job.OutputDir); err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "reset output dir")
	}
	if err := os.MkdirAll(job.OutputDir, 0o755); err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "create output dir")
	}

	outputs, err := transform.Write(job.Artifacts, r.opts.Assets, job.OutputDir)
	if err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "transform artifacts")
	}
	job.Outputs = outputs
	return job, nil
}

func (r *Runner) buildGraph(_ context.Context, job Job) (Job, error) {
	in := crate.Input{
		JobID:       job.ID,
		Source:      job.Source,
		WorkRoot:    job.ExtractDir,
		Now:         r.opts.Now(),
		Profile:     r.opts.Profile,
		NewActionID: r.opts.NewActionID,
	}
	for _, o := range job.Outputs {
		part := crate.Part{Name: o.Name, Label: o.Artifact.Label, Size: o.Size}
		if o.Artifact.Kind == discover.KindReport {
			in.Report = &part
		} else {
			in.Visualizations = append(in.Visualizations, part)
		}
	}

	g, err := crate.Build(r.opts.Mode, in)
	if err != nil {
		return job, err
	}
	if err := g.Export(filepath.Join(job.OutputDir, crate.MetadataFile)); err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "write graph")
	}
	r.opts.Logger.Debug("built graph", "job", job.ID, "mode", r.opts.Mode, "nodes", g.Len())
	job.Graph = g
	return job, nil
}

func (r *Runner) render(_ context.Context, job Job) (Job, error) {
	page, err := preview.FromGraph(job.ID, job.Graph, r.opts.Profile.OrganizationName, job.Links(), r.opts.Assets)
	if err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "render preview")
	}

	path := filepath.Join(job.OutputDir, crate.PreviewFile)
	f, err := os.Create(path)
	if err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "create preview")
	}
	if err := preview.Render(f, page); err != nil {
		f.Close()
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "render preview")
	}
	if err := f.Close(); err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "write preview")
	}
	job.Preview = path
	return job, nil
}

func (r *Runner) pack(ctx context.Context, job Job) (Job, error) {
	n, err := archive.Zip(ctx, job.OutputDir, job.PackagePath)
	if err != nil {
		return job, err
	}
	r.opts.Logger.Debug("wrote package", "job", job.ID, "files", n)
	return job, nil
}

func (r *Runner) cleanup(_ context.Context, job Job) (Job, error) {
	if err := removeWorkDir(job.WorkDir); err != nil {
		return job, apperrors.Wrap(apperrors.ErrCodeInternal, err, "remove work dir")
	}
	return job, nil
}

// ErrJobsFailed is returned by RunAll under the Continue policy when at
// least one job failed.
var ErrJobsFailed = errors.New("one or more jobs failed")

// BatchResult summarizes a batch run.
type BatchResult struct {
	Succeeded []Job
	Failed    []*StageError
	Duration  time.Duration
}

// Total is the number of jobs attempted.
func (b BatchResult) Total() int { return len(b.Succeeded) + len(b.Failed) }

// RunAll processes every source from sources in order. A locator error ends
// the batch immediately. Job failures follow the runner's failure policy:
// Abort returns the first *StageError, Continue records it and returns
// ErrJobsFailed after the last source. Sources that map to an id already
// used in this batch fail without running, since they would share output
// paths.
func (r *Runner) RunAll(ctx context.Context, sources iter.Seq2[string, error]) (BatchResult, error) {
	var res BatchResult
	start := time.Now()

	seen := make(map[string]string)
	for src, err := range sources {
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		if err := ctx.Err(); err != nil {
			res.Duration = time.Since(start)
			return res, err
		}

		job, err := r.NewJob(src)
		if err == nil {
			if prev, dup := seen[job.ID]; dup {
				err = apperrors.New(apperrors.ErrCodeInvalidInput, "job id %q already produced by %s", job.ID, prev)
			} else {
				seen[job.ID] = src
			}
		}
		if err != nil {
			r.opts.Logger.Error("job failed", "job", job.ID, "source", src, "stage", StageInit, "err", err)
			err = &StageError{JobID: job.ID, Stage: StageInit, Err: err}
		} else {
			job, err = r.RunJob(ctx, job)
		}

		if err != nil {
			var se *StageError
			if !errors.As(err, &se) {
				se = &StageError{JobID: job.ID, Stage: job.Stage, Err: err}
			}
			res.Failed = append(res.Failed, se)
			if r.opts.OnError == Abort {
				res.Duration = time.Since(start)
				return res, se
			}
			continue
		}
		res.Succeeded = append(res.Succeeded, job)
	}

	res.Duration = time.Since(start)
	if len(res.Failed) > 0 {
		return res, fmt.Errorf("%w: %d of %d", ErrJobsFailed, len(res.Failed), res.Total())
	}
	return res, nil
}
