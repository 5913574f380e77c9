package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	"github.com/ebi-metagenomics/cratepack/pkg/discover"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
	"github.com/ebi-metagenomics/cratepack/pkg/source"
	"github.com/ebi-metagenomics/cratepack/pkg/transform"
)

// Stage is the state-machine tag of a job.
type Stage string

// Stages in the order a successful job passes through them.
const (
	StageInit        Stage = "INIT"
	StageFetched     Stage = "FETCHED"
	StageExtracted   Stage = "EXTRACTED"
	StageDiscovered  Stage = "DISCOVERED"
	StageTransformed Stage = "TRANSFORMED"
	StageGraphBuilt  Stage = "GRAPH_BUILT"
	StageRendered    Stage = "RENDERED"
	StagePackaged    Stage = "PACKAGED"
	StageCleaned     Stage = "CLEANED"

	// StageFailed is terminal and reachable from every other stage.
	StageFailed Stage = "FAILED"
)

var stageOrder = []Stage{
	StageInit,
	StageFetched,
	StageExtracted,
	StageDiscovered,
	StageTransformed,
	StageGraphBuilt,
	StageRendered,
	StagePackaged,
	StageCleaned,
}

// Next returns the stage that follows s on success. Terminal stages have no
// successor.
func (s Stage) Next() (Stage, bool) {
	for i, st := range stageOrder[:len(stageOrder)-1] {
		if st == s {
			return stageOrder[i+1], true
		}
	}
	return "", false
}

// Terminal reports whether no further transition is possible.
func (s Stage) Terminal() bool {
	return s == StageCleaned || s == StageFailed
}

// CanTransition reports whether a job may move from s to next.
func (s Stage) CanTransition(next Stage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	want, ok := s.Next()
	return ok && want == next
}

// Job is one source archive on its way to a package. Stages receive a Job
// and return a copy with their own fields filled in.
type Job struct {
	Source string
	ID     string

	// WorkDir is the job's exclusive scratch directory; it is removed when
	// the job finishes either way.
	WorkDir     string
	ArchivePath string
	ExtractDir  string

	Artifacts discover.Result

	// OutputDir holds the package contents and survives the job.
	OutputDir string
	Outputs   []transform.Output

	Graph       *crate.Graph
	Preview     string
	PackagePath string

	Stage Stage
}

// NewJob derives the job for src. Scratch space lives under
// "<dest>_temp/<id>"; the package is written to "<dest>/<prefix><id>.zip".
func NewJob(src, dest, prefix string) (Job, error) {
	id := source.JobID(src)
	if err := apperrors.ValidateJobID(id); err != nil {
		return Job{Source: src, ID: id, Stage: StageInit}, err
	}

	dest = filepath.Clean(dest)
	workDir := filepath.Join(dest+"_temp", id)
	outDir := filepath.Join(dest, prefix+id)
	return Job{
		Source:      src,
		ID:          id,
		WorkDir:     workDir,
		ArchivePath: filepath.Join(workDir, source.BaseName(src)),
		ExtractDir:  filepath.Join(workDir, "extracted"),
		OutputDir:   outDir,
		PackagePath: outDir + ".zip",
		Stage:       StageInit,
	}, nil
}

// DiscoveryRoot is the directory searched for artifacts: the extracted
// top-level folder named after the job.
func (j Job) DiscoveryRoot() string {
	return filepath.Join(j.ExtractDir, j.ID)
}

// Links returns the output file names of the packaged artifacts, report
// first.
func (j Job) Links() []string {
	out := make([]string, 0, len(j.Outputs))
	for _, o := range j.Outputs {
		out = append(out, o.Name)
	}
	return out
}

// StageError reports the job and stage a failure happened in. Stage is the
// state the job was moving into.
type StageError struct {
	JobID string
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, strings.ToLower(string(e.Stage)), e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
