// Package pipeline drives source archives through the packaging stages.
//
// Every job moves through a fixed linear state machine:
//
//	INIT → FETCHED → EXTRACTED → DISCOVERED → TRANSFORMED → GRAPH_BUILT
//	     → RENDERED → PACKAGED → CLEANED
//
// A failing stage moves the job to FAILED, removes its working directory
// and returns a [*StageError] naming the job and the stage.
//
// # Usage
//
//	runner, err := pipeline.NewRunner(pipeline.Options{
//	    Destination: "out",
//	    Assets:      bundle,
//	    Logger:      logger,
//	})
//	job, err := runner.Run(ctx, "https://host/runs/SRR123.tar.gz")
//	fmt.Println(job.PackagePath) // out/motus_SRR123.zip
//
// Batches consume a locator sequence:
//
//	res, err := runner.RunAll(ctx, locator.Locate(ctx))
package pipeline

import (
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ebi-metagenomics/cratepack/pkg/archive"
	"github.com/ebi-metagenomics/cratepack/pkg/assets"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	"github.com/ebi-metagenomics/cratepack/pkg/discover"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
	"github.com/ebi-metagenomics/cratepack/pkg/fetch"
)

// DefaultPrefix is prepended to the job id to name output directories and
// packages.
const DefaultPrefix = "motus_"

// FailurePolicy decides what a batch does after a job fails.
type FailurePolicy string

const (
	// Abort stops the batch at the first failed job.
	Abort FailurePolicy = "abort"

	// Continue records the failure and moves on to the next source.
	Continue FailurePolicy = "continue"
)

// ParseFailurePolicy validates a policy name. Empty means [Abort].
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(s)); p {
	case "":
		return Abort, nil
	case Abort, Continue:
		return p, nil
	default:
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "unknown failure policy %q (want abort or continue)", s)
	}
}

// Options configures a [Runner].
type Options struct {
	// Destination is the directory packages are written to. Required.
	Destination string

	// Prefix names outputs as <prefix><id>. Empty uses DefaultPrefix.
	Prefix string

	Discovery discover.Options
	Mode      crate.Mode
	Profile   crate.Profile
	OnError   FailurePolicy

	// Assets decorates artifacts and the preview. Nil loads the embedded
	// bundle.
	Assets *assets.Bundle

	Fetcher   *fetch.Fetcher
	Extractor *archive.Extractor

	// Now and NewActionID feed the graph builder.
	Now         func() time.Time
	NewActionID func() string

	Logger *log.Logger

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// ValidateAndSetDefaults checks required fields and applies defaults.
// Calling it more than once has no further effect.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if strings.TrimSpace(o.Destination) == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "destination is required")
	}
	if o.Prefix == "" {
		o.Prefix = DefaultPrefix
	}
	if strings.ContainsAny(o.Prefix, `/\`) {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "prefix cannot contain path separators: %q", o.Prefix)
	}
	if o.Mode == "" {
		o.Mode = crate.ModeTemplate
	}
	mode, err := crate.ParseMode(string(o.Mode))
	if err != nil {
		return err
	}
	o.Mode = mode
	if o.Discovery.Policy != "" {
		p, err := discover.ParsePolicy(string(o.Discovery.Policy))
		if err != nil {
			return err
		}
		o.Discovery.Policy = p
	}
	policy, err := ParseFailurePolicy(string(o.OnError))
	if err != nil {
		return err
	}
	o.OnError = policy
	o.Profile = o.Profile.WithDefaults()

	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if o.Assets == nil {
		b, err := assets.Default()
		if err != nil {
			return apperrors.Wrap(apperrors.ErrCodeInternal, err, "load embedded assets")
		}
		o.Assets = b
	}
	if o.Fetcher == nil {
		o.Fetcher = fetch.New(fetch.Options{Logger: o.Logger})
	}
	if o.Extractor == nil {
		o.Extractor = &archive.Extractor{Logger: o.Logger}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewActionID == nil {
		o.NewActionID = crate.NewActionID
	}
	o.validated = true
	return nil
}
