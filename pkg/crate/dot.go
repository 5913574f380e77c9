package crate

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-graphviz"
)

// DOTOptions configures [ToDOT].
type DOTOptions struct {
	// Relations adds dashed edges for relation fields. When false only the
	// hasPart containment tree is drawn.
	Relations bool
}

// ToDOT converts a graph to Graphviz DOT. Nodes are labelled with their id
// and type; hasPart edges are solid, relation edges dashed and labelled with
// the relation name. External entities appear as ellipses.
func ToDOT(g *Graph, opts DOTOptions) string {
	var buf bytes.Buffer
	buf.WriteString("digraph G {\n")
	buf.WriteString("  rankdir=LR;\n")
	buf.WriteString("  bgcolor=\"transparent\";\n")
	buf.WriteString("  node [shape=box, style=\"rounded,filled\", fillcolor=white, fontsize=12, margin=\"0.2,0.1\"];\n")
	buf.WriteString("  ranksep=0.6;\n")
	buf.WriteString("  nodesep=0.25;\n")
	buf.WriteString("\n")

	for _, n := range g.Nodes() {
		fmt.Fprintf(&buf, "  %s [%s];\n", dotQuote(n.ID), strings.Join(nodeAttrs(n), ", "))
	}

	external := map[string]bool{}
	var edges []string
	for _, n := range g.Nodes() {
		for _, ref := range n.HasPart {
			edges = append(edges, fmt.Sprintf("  %s -> %s;\n", dotQuote(n.ID), dotQuote(ref.ID)))
		}
		if !opts.Relations {
			continue
		}
		for _, rel := range n.Relations() {
			if _, ok := g.Node(rel.Ref.ID); !ok && !external[rel.Ref.ID] {
				external[rel.Ref.ID] = true
				fmt.Fprintf(&buf, "  %s [shape=ellipse, style=dashed, label=%s];\n", dotQuote(rel.Ref.ID), dotQuote(rel.Ref.ID))
			}
			edges = append(edges, fmt.Sprintf("  %s -> %s [style=dashed, label=%s];\n", dotQuote(n.ID), dotQuote(rel.Ref.ID), dotQuote(rel.Name)))
		}
	}

	buf.WriteString("\n")
	for _, e := range edges {
		buf.WriteString(e)
	}
	buf.WriteString("}\n")
	return buf.String()
}

func nodeAttrs(n Node) []string {
	attrs := []string{"label=\"" + dotEscaper.Replace(n.ID) + `\n` + dotEscaper.Replace(n.Type) + "\""}
	switch n.Type {
	case TypeDataset:
		attrs = append(attrs, "fillcolor=\"#e8f5ec\"")
	case TypeCreateAction:
		attrs = append(attrs, "shape=hexagon", "fillcolor=\"#fff4d6\"")
	case TypeCreativeWork:
		attrs = append(attrs, "fillcolor=\"#eeeeee\"")
	}
	return attrs
}

// dotEscaper escapes the two characters DOT treats specially inside a
// quoted string. Raw line breaks become the \n label escape.
var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", "")

// dotQuote returns s as a double-quoted DOT id.
func dotQuote(s string) string {
	return `"` + dotEscaper.Replace(s) + `"`
}

// RenderSVG renders a DOT graph to SVG using Graphviz.
func RenderSVG(ctx context.Context, dot string) ([]byte, error) {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("init graphviz: %w", err)
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes([]byte(dot))
	if err != nil {
		return nil, fmt.Errorf("parse DOT: %w", err)
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		return nil, fmt.Errorf("render: %w", err)
	}
	return normalizeViewBox(buf.Bytes()), nil
}

var (
	svgTagRe  = regexp.MustCompile(`<svg[^>]*>`)
	viewBoxRe = regexp.MustCompile(`viewBox="([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)\s+([0-9.]+)"`)
)

// normalizeViewBox replaces Graphviz's point-based svg header with one whose
// width and height match the viewBox, so the image scales in a browser.
func normalizeViewBox(svg []byte) []byte {
	match := viewBoxRe.FindSubmatch(svg)
	if match == nil {
		return svg
	}

	w, _ := strconv.ParseFloat(string(match[3]), 64)
	h, _ := strconv.ParseFloat(string(match[4]), 64)
	if w == 0 || h == 0 {
		return svg
	}

	header := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 %.2f %.2f" width="%.0f" height="%.0f">`,
		w, h, w, h)
	return svgTagRe.ReplaceAll(svg, []byte(header))
}
