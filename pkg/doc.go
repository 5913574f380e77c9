// Package pkg holds the cratepack libraries.
//
// # Overview
//
// cratepack turns pipeline-run archives into RO-Crate packages. The pkg
// directory is organized by pipeline concern:
//
//  1. [source] - locate archives under a directory or HTTP index
//  2. [fetch] and [archive] - download, extract and zip
//  3. [discover] and [transform] - find and decorate the artifacts
//  4. [crate] and [preview] - build the provenance graph and its HTML page
//  5. [pipeline] - the per-job state machine and batch driver
//
// Supporting packages: [cache] (index page cache), [httputil] (shared HTTP
// client and retries), [assets] (stylesheets, scripts and logo),
// [observability] (hooks), [errors] (coded errors) and [buildinfo].
//
// # Data Flow
//
//	source root (directory or index URL)
//	         ↓
//	    [source] Locator (lazy sequence of archives)
//	         ↓
//	    [fetch] → [archive] extract → [discover] → [transform]
//	         ↓
//	    [crate] graph → [preview] page → [archive] zip
//	         ↓
//	    <destination>/<prefix><id>.zip
//
// # Quick Start
//
// Package one archive:
//
//	import "github.com/ebi-metagenomics/cratepack/pkg/pipeline"
//
//	runner, err := pipeline.NewRunner(pipeline.Options{Destination: "crates"})
//	if err != nil {
//	    return err
//	}
//	job, err := runner.Run(ctx, "https://example.org/runs/SRR123.tar.gz")
//	// job.PackagePath == "crates/motus_SRR123.zip"
package pkg
