package source

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Kind classifies an entry found in a directory index.
type Kind int

const (
	File Kind = iota
	Directory
)

func (k Kind) String() string {
	if k == Directory {
		return "directory"
	}
	return "file"
}

// Entry is one archive or sub-directory discovered while crawling.
type Entry struct {
	URL  string
	Kind Kind
}

// indexHeaderLinks is the number of leading anchors in a server-generated
// index page that are navigation (sort columns, parent link) rather than
// listing entries.
const indexHeaderLinks = 5

// ParseIndex extracts listing entries from an HTML directory index, in
// document order. base is the URL the page was fetched from and is used to
// resolve relative links.
//
// Rules:
//   - The first five anchors are skipped
//   - Anchors whose href ends in ".md5" are ignored
//   - Anchors ending in "/" (other than "../") are directories
//   - Other anchors are archives only if the resolved URL ends in ".tar.gz"
func ParseIndex(body []byte, base *url.URL) ([]Entry, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var hrefs []*string
	collectAnchors(doc, &hrefs)
	if len(hrefs) <= indexHeaderLinks {
		return nil, nil
	}

	var entries []Entry
	for _, h := range hrefs[indexHeaderLinks:] {
		if h == nil {
			continue
		}
		href := *h
		if strings.HasSuffix(href, ".md5") {
			continue
		}

		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		resolved := base.ResolveReference(ref).String()

		if href == "../" || !strings.HasSuffix(href, "/") {
			if strings.HasSuffix(resolved, ".tar.gz") {
				entries = append(entries, Entry{URL: resolved, Kind: File})
			}
			continue
		}
		entries = append(entries, Entry{URL: resolved, Kind: Directory})
	}
	return entries, nil
}

// collectAnchors appends the href of every <a> element in document order.
// Anchors without an href are recorded as nil so they still count towards
// the skipped header links.
func collectAnchors(n *html.Node, out *[]*string) {
	if n.Type == html.ElementNode && n.Data == "a" {
		var href *string
		for _, attr := range n.Attr {
			if attr.Key == "href" {
				v := attr.Val
				href = &v
				break
			}
		}
		*out = append(*out, href)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectAnchors(c, out)
	}
}
