package preview

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ebi-metagenomics/cratepack/pkg/assets"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
)

func testGraph(t *testing.T, in crate.Input) *crate.Graph {
	t.Helper()
	in.JobID = "ERR1"
	in.Source = "https://example.org/ERR1.tar.gz"
	in.Now = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	in.NewActionID = func() string { return "#run" }
	g, err := crate.Build(crate.ModeTemplate, in)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func render(t *testing.T, g *crate.Graph, links []string) string {
	t.Helper()
	p, err := FromGraph("ERR1", g, "EMBL-EBI", links, &assets.Bundle{
		PreviewStyle:  "<style>.main{}</style>",
		PreviewScript: "<script>preview()</script>",
		Logo:          "<svg></svg>",
	})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Render(&buf, p); err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	return buf.String()
}

func TestRenderLinks(t *testing.T) {
	tests := []struct {
		name   string
		in     crate.Input
		links  []string
		absent []string
	}{
		{
			name: "All",
			in: crate.Input{
				Report:         &crate.Part{Name: "multiqc_report.html"},
				Visualizations: []crate.Part{{Name: "krona_LSU.html", Label: "LSU"}, {Name: "krona_SSU.html", Label: "SSU"}},
			},
			links: []string{"multiqc_report.html", "krona_LSU.html", "krona_SSU.html"},
		},
		{
			name:   "ReportOnly",
			in:     crate.Input{Report: &crate.Part{Name: "multiqc_report.html"}},
			links:  []string{"multiqc_report.html"},
			absent: []string{"krona_"},
		},
		{
			name:   "Nothing",
			links:  nil,
			absent: []string{"multiqc_report.html", "krona_"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(t, testGraph(t, tt.in), tt.links)

			last := -1
			for _, name := range tt.links {
				anchor := `<a href="` + name + `" id="` + name + `">` + name + `</a>`
				i := strings.Index(out, anchor)
				if i < 0 {
					t.Fatalf("missing link %q in:\n%s", name, out)
				}
				if i < last {
					t.Errorf("link %q out of order", name)
				}
				last = i
			}
			if got := strings.Count(out, "<li><a "); got != len(tt.links) {
				t.Errorf("link count = %d, want %d", got, len(tt.links))
			}
			for _, s := range tt.absent {
				if strings.Contains(out, `id="`+s) {
					t.Errorf("unexpected link %q", s)
				}
			}
		})
	}
}

func TestRenderPage(t *testing.T) {
	g := testGraph(t, crate.Input{Report: &crate.Part{Name: "multiqc_report.html"}})
	out := render(t, g, []string{"multiqc_report.html"})

	for _, want := range []string{
		"<title>mOTUs details for run ERR1</title>",
		"<style>.main{}</style>",
		"<script>preview()</script>",
		"<svg></svg>",
		"<dd>EMBL-EBI</dd>",
		"<dd>2024-03-01T00:00:00Z</dd>",
		`data-id="ro-crate-metadata.json"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestFragmentListsChildren(t *testing.T) {
	g := testGraph(t, crate.Input{Visualizations: []crate.Part{{Name: "krona_LSU.html", Label: "LSU"}}})
	frag, err := Fragment(g)
	if err != nil {
		t.Fatal(err)
	}
	s := string(frag)
	if got := strings.Count(s, `class="context-entity"`); got != g.Len() {
		t.Errorf("entities = %d, want %d", got, g.Len())
	}
	// The root lists its one part, the file node itself lists none.
	if got := strings.Count(s, `<dl class="part">`); got != 1 {
		t.Errorf("child blocks = %d, want 1", got)
	}
	if !strings.Contains(s, "<dd>Krona chart (LSU)</dd>") {
		t.Error("child name not rendered")
	}
}

func TestRenderEscapesLabels(t *testing.T) {
	evil := `krona_<img src=x onerror=alert(1)>.html`
	g := crate.New()
	if err := g.Add(crate.Node{ID: crate.RootID, Type: crate.TypeDataset, HasPart: []crate.Ref{{ID: evil}}}); err != nil {
		t.Fatal(err)
	}
	if err := g.Add(crate.Node{ID: evil, Type: crate.TypeFile, Name: "<b>x</b>"}); err != nil {
		t.Fatal(err)
	}

	out := render(t, g, []string{evil})
	if strings.Contains(out, "<img") || strings.Contains(out, "<b>x</b>") {
		t.Errorf("unescaped markup in output:\n%s", out)
	}
	if !strings.Contains(out, "&lt;b&gt;x&lt;/b&gt;") {
		t.Error("name not escaped as text")
	}
}
