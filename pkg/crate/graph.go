package crate

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
)

// Well-known identifiers.
const (
	// Context is the JSON-LD context of every serialized graph.
	Context = "https://w3id.org/ro/crate/1.1/context"

	// RootID identifies the package root node, always first in the graph.
	RootID = "./"

	// MetadataFile and PreviewFile are the package's own descriptor files.
	MetadataFile = "ro-crate-metadata.json"
	PreviewFile  = "ro-crate-preview.html"

	// CrateProfile is the RO-Crate version the metadata descriptor conforms to.
	CrateProfile = "https://w3id.org/ro/crate/1.1"

	// ProcessRunProfile is the profile the root dataset conforms to.
	ProcessRunProfile = "https://w3id.org/ro/wfrun/process/0.1"
)

// Node types.
const (
	TypeDataset      = "Dataset"
	TypeFile         = "File"
	TypeCreativeWork = "CreativeWork"
	TypeCreateAction = "CreateAction"
	TypeOrganization = "Organization"
	TypeSoftware     = "SoftwareApplication"
)

var (
	// ErrDuplicateID is the cause when a node id is added twice.
	ErrDuplicateID = errors.New("duplicate node id")

	// ErrEmptyID is the cause when a node has no id.
	ErrEmptyID = errors.New("node id must not be empty")
)

// Ref is a JSON-LD reference to another node or an external entity.
type Ref struct {
	ID   string `json:"@id"`
	Type string `json:"@type,omitempty"`
}

// Node is one entity of the provenance graph. Only Dataset nodes may carry
// HasPart; relation fields reference nodes in the same graph or absolute
// external URLs.
type Node struct {
	ID             string `json:"@id"`
	Type           string `json:"@type"`
	Name           string `json:"name,omitempty"`
	Description    string `json:"description,omitempty"`
	DatePublished  string `json:"datePublished,omitempty"`
	EncodingFormat string `json:"encodingFormat,omitempty"`
	ContentSize    int64  `json:"contentSize,omitempty"`
	EndTime        string `json:"endTime,omitempty"`

	HasPart    []Ref `json:"hasPart,omitempty"`
	ConformsTo *Ref  `json:"conformsTo,omitempty"`
	Creator    *Ref  `json:"creator,omitempty"`
	About      *Ref  `json:"about,omitempty"`
	Agent      []Ref `json:"agent,omitempty"`
	Instrument []Ref `json:"instrument,omitempty"`
	Result     []Ref `json:"result,omitempty"`
}

// Relation is a named reference from one node to another entity.
type Relation struct {
	Name string
	Ref  Ref
}

// Relations returns the node's relation references (everything except
// HasPart) in a fixed order.
func (n Node) Relations() []Relation {
	var out []Relation
	single := func(name string, r *Ref) {
		if r != nil {
			out = append(out, Relation{Name: name, Ref: *r})
		}
	}
	multi := func(name string, rs []Ref) {
		for _, r := range rs {
			out = append(out, Relation{Name: name, Ref: r})
		}
	}
	single("conformsTo", n.ConformsTo)
	single("creator", n.Creator)
	single("about", n.About)
	multi("agent", n.Agent)
	multi("instrument", n.Instrument)
	multi("result", n.Result)
	return out
}

// IsContainer reports whether the node may hold children.
func (n Node) IsContainer() bool { return n.Type == TypeDataset }

// Graph is an ordered set of nodes with unique ids. Build one with [New] and
// [Graph.Add]; it is not safe for concurrent mutation.
type Graph struct {
	context string
	nodes   []Node
	index   map[string]int
}

// New creates an empty graph with the standard context.
func New() *Graph {
	return &Graph{context: Context, index: make(map[string]int)}
}

// Add appends n. A node whose id is empty or already present is rejected
// with GRAPH_CONSISTENCY.
func (g *Graph) Add(n Node) error {
	if n.ID == "" {
		return apperrors.Wrap(apperrors.ErrCodeGraphConsistency, ErrEmptyID, "add %s node", n.Type)
	}
	if _, ok := g.index[n.ID]; ok {
		return apperrors.Wrap(apperrors.ErrCodeGraphConsistency, ErrDuplicateID, "add %q", n.ID)
	}
	g.index[n.ID] = len(g.nodes)
	g.nodes = append(g.nodes, n)
	return nil
}

// Context returns the JSON-LD context.
func (g *Graph) Context() string { return g.context }

// Nodes returns the nodes in construction order. The slice is a copy.
func (g *Graph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}

// Children returns the nodes referenced by id's hasPart, in order. Children
// missing from the graph are returned as bare references.
func (g *Graph) Children(id string) []Node {
	n, ok := g.Node(id)
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(n.HasPart))
	for _, ref := range n.HasPart {
		if child, ok := g.Node(ref.ID); ok {
			out = append(out, child)
		} else {
			out = append(out, Node{ID: ref.ID, Type: ref.Type})
		}
	}
	return out
}

// Validate checks every graph invariant:
//   - the root node is present and first
//   - only Dataset nodes carry hasPart
//   - every hasPart child exists in the graph
//   - every relation targets a node in the graph or an absolute http(s) URL
func (g *Graph) Validate() error {
	fail := func(format string, args ...any) error {
		return apperrors.New(apperrors.ErrCodeGraphConsistency, format, args...)
	}

	if len(g.nodes) == 0 || g.nodes[0].ID != RootID {
		return fail("root node %q must be first", RootID)
	}
	for _, n := range g.nodes {
		if len(n.HasPart) > 0 && !n.IsContainer() {
			return fail("%s node %q cannot have parts", n.Type, n.ID)
		}
		for _, ref := range n.HasPart {
			if _, ok := g.index[ref.ID]; !ok {
				return fail("%q lists missing part %q", n.ID, ref.ID)
			}
		}
		for _, rel := range n.Relations() {
			if _, ok := g.index[rel.Ref.ID]; ok || IsExternal(rel.Ref.ID) {
				continue
			}
			return fail("%q %s references unknown %q", n.ID, rel.Name, rel.Ref.ID)
		}
	}
	return nil
}

// IsExternal reports whether id is an absolute http(s) URL.
func IsExternal(id string) bool {
	return strings.HasPrefix(id, "https://") || strings.HasPrefix(id, "http://")
}

type document struct {
	Context string `json:"@context"`
	Graph   []Node `json:"@graph"`
}

// WriteJSON encodes the graph as a two-space indented JSON-LD document.
func (g *Graph) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(document{Context: g.context, Graph: g.nodes}); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{Context: g.context, Graph: g.nodes})
}

// Export writes the graph to path.
func (g *Graph) Export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := g.WriteJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadGraph decodes a graph previously written by [Graph.WriteJSON].
// Duplicate ids are rejected; other invariants are left to [Graph.Validate].
func ReadGraph(r io.Reader) (*Graph, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	g := New()
	if doc.Context != "" {
		g.context = doc.Context
	}
	for _, n := range doc.Graph {
		if err := g.Add(n); err != nil {
			return nil, err
		}
	}
	return g, nil
}
