package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ebi-metagenomics/cratepack/pkg/archive"
	"github.com/ebi-metagenomics/cratepack/pkg/crate"
	apperrors "github.com/ebi-metagenomics/cratepack/pkg/errors"
	"github.com/ebi-metagenomics/cratepack/pkg/preview"
)

// Output formats accepted by inspect.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatDOT   = "dot"
	formatSVG   = "svg"
	formatHTML  = "html"
)

var inspectFormats = []string{formatTable, formatJSON, formatDOT, formatSVG, formatHTML}

// inspectCommand creates the inspect command.
func (c *CLI) inspectCommand() *cobra.Command {
	var (
		format    string
		output    string
		relations bool
	)

	cmd := &cobra.Command{
		Use:   "inspect <package.zip|ro-crate-metadata.json>",
		Short: "Show the provenance graph of a package",
		Long: `Read the provenance graph from a produced package, or from a bare
ro-crate-metadata.json, and print it as a table, JSON-LD, Graphviz DOT, an
SVG drawing or a re-rendered preview page.`,
		Example: `  cratepack inspect crates/motus_SRR1.zip
  cratepack inspect crates/motus_SRR1.zip --format svg -o SRR1.svg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := loadGraph(args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				if err := c.writeGraph(cmd.Context(), f, g, format, relations); err != nil {
					f.Close()
					return err
				}
				if err := f.Close(); err != nil {
					return err
				}
				printFile(cmd.ErrOrStderr(), output)
				return nil
			}
			return c.writeGraph(cmd.Context(), w, g, format, relations)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: "+strings.Join(inspectFormats, ", "))
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&relations, "relations", true, "draw relation edges in dot and svg output")
	_ = cmd.RegisterFlagCompletionFunc("format", cobra.FixedCompletions(inspectFormats, cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// loadGraph reads the metadata file from a package zip, or a metadata file
// given directly.
func loadGraph(path string) (*crate.Graph, error) {
	var (
		r   io.Reader
		err error
	)
	if strings.EqualFold(filepath.Ext(path), ".zip") {
		var data []byte
		data, err = archive.ReadMember(path, crate.MetadataFile)
		r = bytes.NewReader(data)
	} else {
		var f *os.File
		f, err = os.Open(path)
		if err == nil {
			defer f.Close()
			r = f
		}
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeInvalidInput, err, "read %s", path)
	}

	g, err := crate.ReadGraph(r)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeGraphConsistency, err, "parse %s", path)
	}
	return g, nil
}

func (c *CLI) writeGraph(ctx context.Context, w io.Writer, g *crate.Graph, format string, relations bool) error {
	switch format {
	case formatTable:
		if root, ok := g.Node(crate.RootID); ok {
			fmt.Fprintln(w, StyleTitle.Render(root.Name))
			if root.Description != "" {
				fmt.Fprintln(w, StyleDim.Render(root.Description))
			}
		}
		printKeyValue(w, "Entities", fmt.Sprint(g.Len()))
		if err := g.Validate(); err != nil {
			printWarning(w, "%s", apperrors.UserMessage(err))
		}
		fmt.Fprintln(w, graphTable(g))
		return nil

	case formatJSON:
		return g.WriteJSON(w)

	case formatDOT:
		_, err := io.WriteString(w, crate.ToDOT(g, crate.DOTOptions{Relations: relations}))
		return err

	case formatSVG:
		svg, err := crate.RenderSVG(ctx, crate.ToDOT(g, crate.DOTOptions{Relations: relations}))
		if err != nil {
			return err
		}
		_, err = w.Write(svg)
		return err

	case formatHTML:
		bundle, err := c.loadAssets("")
		if err != nil {
			return err
		}
		page, err := preview.FromGraph("", g, c.Config.Graph.OrganizationName, packagedFiles(g), bundle)
		if err != nil {
			return err
		}
		if root, ok := g.Node(crate.RootID); ok {
			page.Title = root.Name
		}
		return preview.Render(w, page)

	default:
		return apperrors.New(apperrors.ErrCodeInvalidInput, "unknown format %q (want %s)", format, strings.Join(inspectFormats, ", "))
	}
}

// packagedFiles returns the root's direct File parts, which are the
// artifacts a preview links to.
func packagedFiles(g *crate.Graph) []string {
	var out []string
	for _, n := range g.Children(crate.RootID) {
		if n.Type == crate.TypeFile {
			out = append(out, n.ID)
		}
	}
	return out
}
