package crate

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ebi-metagenomics/cratepack/pkg/discover"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
)

// Mode selects the graph building strategy.
type Mode string

const (
	// ModeTemplate emits a fixed schema: root, one node per packaged
	// artifact, the source, the descriptor files and the producing action.
	ModeTemplate Mode = "template"

	// ModeFullTree adds the whole extracted working tree, under
	// [ExtractedID], to the template nodes.
	ModeFullTree Mode = "full-tree"
)

// ExtractedID is the id of the Dataset holding the extracted tree in
// full-tree mode. Every tree node id starts with it.
const ExtractedID = "extracted/"

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeTemplate, ModeFullTree:
		return m, nil
	default:
		return "", apperrors.New(apperrors.ErrCodeInvalidInput, "unknown graph mode %q (want template or full-tree)", s)
	}
}

// Profile holds the fixed provenance facts stamped into every graph.
type Profile struct {
	Organization     string // agent and creator URL
	OrganizationName string
	Instrument       string // software URL
	Description      string
	RunName          string // fmt pattern taking the job id
}

// DefaultProfile describes mOTUs runs published by EMBL-EBI.
var DefaultProfile = Profile{
	Organization:     "https://ror.org/02catss52",
	OrganizationName: "EMBL-EBI",
	Instrument:       "https://github.com/EBI-Metagenomics/motus_pipeline",
	Description:      "mOTUs is a containerised pipeline for profiling shotgun metagenomic data.",
	RunName:          "mOTUs run on %s",
}

// WithDefaults fills empty fields from [DefaultProfile].
func (p Profile) WithDefaults() Profile {
	d := DefaultProfile
	if p.Organization != "" {
		d.Organization = p.Organization
	}
	if p.OrganizationName != "" {
		d.OrganizationName = p.OrganizationName
	}
	if p.Instrument != "" {
		d.Instrument = p.Instrument
	}
	if p.Description != "" {
		d.Description = p.Description
	}
	if p.RunName != "" {
		d.RunName = p.RunName
	}
	return d
}

// Part is a packaged artifact the graph describes.
type Part struct {
	Name  string // output file name, e.g. krona_LSU.html
	Label string // visualization label; empty for the report
	Size  int64
}

// Input is everything the builder needs for one job.
type Input struct {
	JobID  string
	Source string // original source location

	// Report is the packaged report, nil when absent.
	Report *Part
	// Visualizations are the packaged visualizations, in output order.
	Visualizations []Part

	// WorkRoot is the extracted tree walked in full-tree mode.
	WorkRoot string

	// Now stamps datePublished and endTime. Zero uses time.Now.
	Now time.Time

	Profile Profile

	// NewActionID returns the action node id. Nil uses a random UUID.
	NewActionID func() string
}

// Build constructs the provenance graph for in using mode, then validates it.
func Build(mode Mode, in Input) (*Graph, error) {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	if in.NewActionID == nil {
		in.NewActionID = NewActionID
	}
	in.Profile = in.Profile.WithDefaults()

	b := &builder{in: in, g: New(), stamp: in.Now.UTC().Format(time.RFC3339)}

	var err error
	switch mode {
	case ModeTemplate:
		err = b.template()
	case ModeFullTree:
		err = b.fullTree()
	default:
		err = apperrors.New(apperrors.ErrCodeInvalidInput, "unknown graph mode %q", mode)
	}
	if err != nil {
		return nil, err
	}
	if err := b.g.Validate(); err != nil {
		return nil, err
	}
	return b.g, nil
}

// NewActionID returns "#" followed by 32 random hex digits.
func NewActionID() string {
	return "#" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type builder struct {
	in    Input
	g     *Graph
	stamp string
}

func (b *builder) add(n Node) error {
	n.DatePublished = b.stamp
	return b.g.Add(n)
}

func (b *builder) rootNode(parts []Ref) Node {
	return Node{
		ID:          RootID,
		Type:        TypeDataset,
		Name:        fmt.Sprintf(b.in.Profile.RunName, b.in.JobID),
		Description: b.in.Profile.Description,
		HasPart:     parts,
		ConformsTo:  &Ref{ID: ProcessRunProfile},
		Creator:     &Ref{ID: b.in.Profile.Organization, Type: TypeOrganization},
	}
}

// partRefs lists the packaged artifacts, report first.
func (b *builder) partRefs() []Ref {
	var parts []Ref
	if b.in.Report != nil {
		parts = append(parts, Ref{ID: b.in.Report.Name})
	}
	for _, v := range b.in.Visualizations {
		parts = append(parts, Ref{ID: v.Name})
	}
	return parts
}

// partNodes appends one File node per packaged artifact, visualizations
// before the report.
func (b *builder) partNodes() error {
	for _, v := range b.in.Visualizations {
		if err := b.add(Node{
			ID:             v.Name,
			Type:           TypeFile,
			Name:           fmt.Sprintf("Krona chart (%s)", v.Label),
			EncodingFormat: "text/html",
			ContentSize:    v.Size,
		}); err != nil {
			return err
		}
	}
	if r := b.in.Report; r != nil {
		if err := b.add(Node{
			ID:             r.Name,
			Type:           TypeFile,
			Name:           "MultiQC report",
			EncodingFormat: "text/html",
			ContentSize:    r.Size,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) template() error {
	if err := b.add(b.rootNode(b.partRefs())); err != nil {
		return err
	}
	if err := b.partNodes(); err != nil {
		return err
	}
	return b.trailer()
}

// trailer appends the source, descriptor and action nodes shared by both
// modes.
func (b *builder) trailer() error {
	org := Ref{ID: b.in.Profile.Organization, Type: TypeOrganization}
	nodes := []Node{
		{
			ID:      b.in.Source,
			Type:    TypeDataset,
			Name:    path.Base(filepath.ToSlash(b.in.Source)),
			Creator: &org,
		},
		{
			ID:         MetadataFile,
			Type:       TypeCreativeWork,
			Name:       MetadataFile,
			ConformsTo: &Ref{ID: CrateProfile},
			About:      &Ref{ID: RootID},
		},
		{
			ID:    PreviewFile,
			Type:  TypeCreativeWork,
			Name:  PreviewFile,
			About: &Ref{ID: RootID},
		},
		{
			ID:          b.in.NewActionID(),
			Type:        TypeCreateAction,
			Name:        fmt.Sprintf(b.in.Profile.RunName, b.in.JobID),
			Description: b.in.Profile.Description,
			EndTime:     b.stamp,
			Agent:       []Ref{org},
			Instrument:  []Ref{{ID: b.in.Profile.Instrument, Type: TypeSoftware}},
			Result:      []Ref{{ID: b.in.Source, Type: TypeDataset}},
		},
	}
	for _, n := range nodes {
		if err := b.add(n); err != nil {
			return err
		}
	}
	return nil
}

// fullTree emits the root and the packaged artifacts as in template mode,
// then the extracted tree under [ExtractedID] in depth-first lexical order.
// Tree ids carry the ExtractedID prefix so files inside the archive never
// share an id with a packaged artifact or a descriptor file.
func (b *builder) fullTree() error {
	root := b.in.WorkRoot
	if root == "" {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "full-tree mode needs a working root")
	}

	top, err := children(root, "")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrCodeInternal, err, "read %s", root)
	}
	parts := append(b.partRefs(), Ref{ID: ExtractedID})
	if err := b.add(b.rootNode(parts)); err != nil {
		return err
	}
	if err := b.partNodes(); err != nil {
		return err
	}
	if err := b.add(Node{
		ID:      ExtractedID,
		Type:    TypeDataset,
		Name:    "Extracted contents of " + path.Base(filepath.ToSlash(b.in.Source)),
		HasPart: refs(top),
	}); err != nil {
		return err
	}

	var walk func(entries []entry) error
	walk = func(entries []entry) error {
		for _, e := range entries {
			if !e.dir {
				if err := b.add(Node{
					ID:             treeID(e.rel),
					Type:           TypeFile,
					Name:           e.name,
					EncodingFormat: mime.TypeByExtension(path.Ext(e.name)),
					ContentSize:    e.size,
				}); err != nil {
					return err
				}
				continue
			}

			sub, err := children(root, e.rel)
			if err != nil {
				return apperrors.Wrap(apperrors.ErrCodeInternal, err, "read %s", e.rel)
			}
			if err := b.add(Node{ID: treeID(e.rel), Type: TypeDataset, Name: e.name, HasPart: refs(sub)}); err != nil {
				return err
			}
			if err := walk(sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(top); err != nil {
		return err
	}
	return b.trailer()
}

// treeID is the node id of a path relative to the working root.
func treeID(rel string) string {
	return ExtractedID + rel
}

type entry struct {
	rel  string // path relative to the working root, "/" separated
	name string
	dir  bool
	size int64
}

// children lists the non-metadata entries of root/rel in lexical order.
// Symlinks and other special files are skipped.
func children(root, rel string) ([]entry, error) {
	des, err := os.ReadDir(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, err
	}
	sort.Slice(des, func(i, j int) bool { return des[i].Name() < des[j].Name() })

	var out []entry
	for _, de := range des {
		name := de.Name()
		if discover.Excluded(name) {
			continue
		}
		switch {
		case de.IsDir():
			out = append(out, entry{rel: rel + name + "/", name: name, dir: true})
		case de.Type().IsRegular():
			var size int64
			if info, err := de.Info(); err == nil {
				size = info.Size()
			} else if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
			out = append(out, entry{rel: rel + name, name: name, size: size})
		}
	}
	return out, nil
}

func refs(entries []entry) []Ref {
	out := make([]Ref, len(entries))
	for i, e := range entries {
		out[i] = Ref{ID: treeID(e.rel)}
	}
	return out
}

