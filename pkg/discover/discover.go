// Package discover locates the known artifacts inside an extracted run
// directory.
//
// A run directory holds one quality-control report and any number of
// taxonomic visualizations, each in its own labelled folder:
//
//	<run>/qc/multiqc/multiqc_report.html
//	<run>/taxonomy/<label>/krona.html
//
// Archives produced on macOS may carry AppleDouble ("._*") and .DS_Store
// entries next to the real files; these are never treated as artifacts.
package discover

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
)

// Kind is the role of a discovered artifact.
type Kind string

const (
	KindReport        Kind = "report"
	KindVisualization Kind = "visualization"
)

// Policy decides what happens when expected artifacts are absent.
type Policy string

const (
	// Strict fails discovery when the report or every visualization is missing.
	Strict Policy = "strict"
	// Lenient records the absence and lets later stages skip it.
	Lenient Policy = "lenient"
)

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(s)); p {
	case Strict, Lenient:
		return p, nil
	default:
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "unknown discovery policy %q (want strict or lenient)", s)
	}
}

// Default artifact locations relative to the run directory.
const (
	DefaultReportPath        = "qc/multiqc/multiqc_report.html"
	DefaultVisualizationGlob = "taxonomy/*/krona.html"
)

// Artifact is a discovered file. Label is the immediate parent directory
// name for visualizations and empty for the report.
type Artifact struct {
	Path  string
	Kind  Kind
	Label string
}

// Result is the outcome of discovery.
type Result struct {
	Report         *Artifact
	Visualizations []Artifact // sorted by label

	// Missing names the expected artifacts that were not found, as paths
	// relative to the run directory. Only set under the lenient policy.
	Missing []string
}

// All returns the present artifacts in output order: report first, then
// visualizations.
func (r Result) All() []Artifact {
	out := make([]Artifact, 0, len(r.Visualizations)+1)
	if r.Report != nil {
		out = append(out, *r.Report)
	}
	return append(out, r.Visualizations...)
}

// Options configures [Discover].
type Options struct {
	Policy            Policy
	ReportPath        string
	VisualizationGlob string
}

func (o *Options) defaults() {
	if o.Policy == "" {
		o.Policy = Lenient
	}
	if o.ReportPath == "" {
		o.ReportPath = DefaultReportPath
	}
	if o.VisualizationGlob == "" {
		o.VisualizationGlob = DefaultVisualizationGlob
	}
}

// Discover finds the report and visualizations under root.
//
// Under the strict policy a missing report, or zero visualizations, is
// ARTIFACT_NOT_FOUND. Under the lenient policy the absences are listed in
// Result.Missing and discovery succeeds, even when root itself is absent.
func Discover(root string, opts Options) (Result, error) {
	opts.defaults()

	var res Result

	reportPath := filepath.Join(root, filepath.FromSlash(opts.ReportPath))
	if isArtifactFile(reportPath) {
		res.Report = &Artifact{Path: reportPath, Kind: KindReport}
	} else {
		res.Missing = append(res.Missing, opts.ReportPath)
	}

	matches, err := filepath.Glob(filepath.Join(root, filepath.FromSlash(opts.VisualizationGlob)))
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "visualization pattern %q", opts.VisualizationGlob)
	}
	for _, m := range matches {
		if !isArtifactFile(m) {
			continue
		}
		label := filepath.Base(filepath.Dir(m))
		if Excluded(label) || apperrors.ValidateLabel(label) != nil {
			continue
		}
		res.Visualizations = append(res.Visualizations, Artifact{Path: m, Kind: KindVisualization, Label: label})
	}
	sort.Slice(res.Visualizations, func(i, j int) bool {
		return res.Visualizations[i].Label < res.Visualizations[j].Label
	})
	if len(res.Visualizations) == 0 {
		res.Missing = append(res.Missing, opts.VisualizationGlob)
	}

	if opts.Policy == Strict && len(res.Missing) > 0 {
		return Result{}, apperrors.New(apperrors.ErrCodeArtifactNotFound,
			"missing %s under %s", strings.Join(res.Missing, ", "), root)
	}
	return res, nil
}

// Excluded reports whether a file or folder name is filesystem metadata
// rather than content.
func Excluded(name string) bool {
	return strings.HasPrefix(name, "._") || name == ".DS_Store"
}

func isArtifactFile(path string) bool {
	if Excluded(filepath.Base(path)) {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
