// Package crate builds the provenance graph stored in every package as
// ro-crate-metadata.json.
//
// # Overview
//
// A [Graph] is an ordered list of [Node] values with unique ids and the root
// dataset ("./") first. [Build] fills one in either of two modes:
//
//   - [ModeTemplate]: a fixed schema with one node per packaged artifact
//   - [ModeFullTree]: the template nodes plus one node per directory and
//     file of the extracted tree, all under the [ExtractedID] dataset
//
// Both modes append the source dataset, the metadata and preview descriptor
// nodes and a CreateAction linking the publishing organization, the
// pipeline software and the source.
//
// # Invariants
//
// [Graph.Add] rejects duplicate ids as they happen. [Graph.Validate] checks
// the rest before serialization: only Dataset nodes carry hasPart, every
// part exists, and every relation targets a node in the graph or an
// absolute URL. Violations are GRAPH_CONSISTENCY errors.
//
// # Output
//
//	g, err := crate.Build(crate.ModeTemplate, in)
//	err = g.Export(filepath.Join(outDir, crate.MetadataFile))
//
// [ToDOT] and [RenderSVG] draw a graph for inspection.
package crate
