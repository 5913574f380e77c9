// Package transform injects home-button navigation into discovered HTML
// artifacts and writes them under their packaged names.
package transform

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ebi-metagenomics/cratepack/pkg/assets"
	"github.com/ebi-metagenomics/cratepack/pkg/discover"
)

// ReportName is the packaged name of the quality-control report.
const ReportName = "multiqc_report.html"

// VisualizationName returns the packaged name for a visualization label.
func VisualizationName(label string) string {
	return "krona_" + label + ".html"
}

// OutputName returns the packaged name of an artifact.
func OutputName(a discover.Artifact) string {
	if a.Kind == discover.KindReport {
		return ReportName
	}
	return VisualizationName(a.Label)
}

// Output is a written, navigation-enabled artifact.
type Output struct {
	Name     string // file name inside the output directory
	Artifact discover.Artifact
	Size     int64
}

// Apply returns prefix followed by content. The content bytes are copied,
// never modified. Applying twice prepends the prefix twice, so callers must
// pass original artifact content only.
func Apply(content []byte, prefix string) []byte {
	out := make([]byte, 0, len(prefix)+len(content))
	out = append(out, prefix...)
	return append(out, content...)
}

// Strip removes one leading prefix from content. It reports false when
// content does not start with prefix.
func Strip(content []byte, prefix string) ([]byte, bool) {
	return bytes.CutPrefix(content, []byte(prefix))
}

// Write reads every present artifact from res, applies the bundle's
// navigation prefix and writes it into outDir under its output name.
// Outputs are returned in output order: report first, then visualizations.
func Write(res discover.Result, bundle *assets.Bundle, outDir string) ([]Output, error) {
	prefix := bundle.NavigationPrefix()

	var outputs []Output
	for _, a := range res.All() {
		content, err := os.ReadFile(a.Path)
		if err != nil {
			return outputs, fmt.Errorf("read %s: %w", a.Path, err)
		}

		name := OutputName(a)
		data := Apply(content, prefix)
		if err := os.WriteFile(filepath.Join(outDir, name), data, 0o644); err != nil {
			return outputs, fmt.Errorf("write %s: %w", name, err)
		}
		outputs = append(outputs, Output{Name: name, Artifact: a, Size: int64(len(data))})
	}
	return outputs, nil
}
