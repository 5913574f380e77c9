// Package assets provides the navigation and preview payloads injected into
// packaged HTML files.
//
// The default payloads are embedded directly into the binary using go:embed.
// [LoadDir] reads the same relative file names from a directory instead, so
// a deployment can restyle the output without rebuilding.
package assets

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
)

//go:embed static
var static embed.FS

// Relative paths of the payload files, shared by the embedded tree and
// override directories.
const (
	HomeButtonScript = "js/home-button.js"
	HomeButtonStyle  = "css/home-button.css"
	PreviewScript    = "js/ro-crate-preview.js"
	PreviewStyle     = "css/ro-crate-preview.css"
	Logo             = "img/logo.svg"
)

// Bundle holds the loaded payloads. Script and style payloads are stored
// already wrapped in their <script> or <style> element; the logo is raw SVG.
// A Bundle is read-only after loading and safe to share.
type Bundle struct {
	NavScript     string
	NavStyle      string
	PreviewScript string
	PreviewStyle  string
	Logo          string
}

// Default returns the bundle built from the embedded payloads.
func Default() (*Bundle, error) {
	sub, err := fs.Sub(static, "static")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// LoadDir returns the bundle read from dir. Every payload file must exist.
func LoadDir(dir string) (*Bundle, error) {
	return Load(os.DirFS(dir))
}

// Load reads every payload from fsys.
func Load(fsys fs.FS) (*Bundle, error) {
	var b Bundle
	files := []struct {
		path string
		tag  string
		dst  *string
	}{
		{HomeButtonScript, "script", &b.NavScript},
		{HomeButtonStyle, "style", &b.NavStyle},
		{PreviewScript, "script", &b.PreviewScript},
		{PreviewStyle, "style", &b.PreviewStyle},
		{Logo, "", &b.Logo},
	}

	for _, f := range files {
		data, err := fs.ReadFile(fsys, f.path)
		if err != nil {
			return nil, fmt.Errorf("load asset %s: %w", f.path, err)
		}
		*f.dst = wrap(string(data), f.tag)
	}
	return &b, nil
}

// NavigationPrefix returns the text prepended to every navigable HTML
// artifact: the navigation script, a newline, the navigation style and a
// final newline.
func (b *Bundle) NavigationPrefix() string {
	return b.NavScript + "\n" + b.NavStyle + "\n"
}

func wrap(content, tag string) string {
	if tag == "" {
		return content
	}
	return "<" + tag + ">" + content + "</" + tag + ">"
}
