// Package preview renders ro-crate-preview.html, the human-readable page
// shipped inside every package.
//
// All markup goes through html/template. Artifact labels come from archive
// contents, so every value taken from the graph or the job is escaped; only
// the asset bundle payloads are inserted verbatim.
package preview

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/ebi-metagenomics/cratepack/pkg/assets"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html.tmpl"))

// Page is the data for one preview document.
type Page struct {
	JobID         string
	Title         string // defaults to "mOTUs details for run <JobID>"
	Description   string
	Creator       string
	DatePublished string

	// Links are the output file names of the present artifacts, report
	// first. Each becomes an anchor whose href and id equal the name.
	Links []string

	// Fragment is the rendered graph from [Fragment].
	Fragment template.HTML

	Assets *assets.Bundle
}

type entity struct {
	ID            string
	Type          string
	Name          string
	DatePublished string
	Children      []entity
}

func toEntity(n crate.Node) entity {
	return entity{ID: n.ID, Type: n.Type, Name: n.Name, DatePublished: n.DatePublished}
}

// Fragment renders g as a display-ready markup block: for each node its
// id, type, name and datePublished, and for container nodes the same fields
// for each child.
func Fragment(g *crate.Graph) (template.HTML, error) {
	var entities []entity
	for _, n := range g.Nodes() {
		e := toEntity(n)
		if n.IsContainer() {
			for _, c := range g.Children(n.ID) {
				e.Children = append(e.Children, toEntity(c))
			}
		}
		entities = append(entities, e)
	}

	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "fragment.html.tmpl", entities); err != nil {
		return "", fmt.Errorf("render fragment: %w", err)
	}
	return template.HTML(buf.String()), nil
}

type pageData struct {
	Title         string
	Description   string
	Creator       string
	DatePublished string
	Links         []string
	Fragment      template.HTML
	Style         template.HTML
	Script        template.HTML
	Logo          template.HTML
}

// Render writes the preview document for p to w.
func Render(w io.Writer, p Page) error {
	data := pageData{
		Title:         p.Title,
		Description:   p.Description,
		Creator:       p.Creator,
		DatePublished: p.DatePublished,
		Links:         p.Links,
		Fragment:      p.Fragment,
	}
	if data.Title == "" {
		data.Title = "mOTUs details for run " + p.JobID
	}
	if b := p.Assets; b != nil {
		// Bundle payloads are operator supplied and inserted unescaped.
		data.Style = template.HTML(b.PreviewStyle)
		data.Script = template.HTML(b.PreviewScript)
		data.Logo = template.HTML(b.Logo)
	}

	if err := templates.ExecuteTemplate(w, "page.html.tmpl", data); err != nil {
		return fmt.Errorf("render preview: %w", err)
	}
	return nil
}

// FromGraph fills the page header fields from the graph root and creator.
func FromGraph(jobID string, g *crate.Graph, creator string, links []string, bundle *assets.Bundle) (Page, error) {
	frag, err := Fragment(g)
	if err != nil {
		return Page{}, err
	}
	p := Page{
		JobID:    jobID,
		Creator:  creator,
		Links:    links,
		Fragment: frag,
		Assets:   bundle,
	}
	if root, ok := g.Node(crate.RootID); ok {
		p.Description = root.Description
		p.DatePublished = root.DatePublished
	}
	return p, nil
}
