package openqalocal

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// parseLogListing extracts log file names from the HTML fragment served by
// openQA's per-job downloads view. The names are the anchor texts inside the
// "resultfile-list" container, trimmed of surrounding whitespace and kept in
// document order. The markup contract belongs to the remote service and may
// change underneath us, which is why listing fetches are best-effort.
func parseLogListing(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var names []string

	var collectAnchors func(n *html.Node)
	collectAnchors = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if name := strings.TrimSpace(nodeText(n)); name != "" {
				names = append(names, name)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collectAnchors(c)
		}
	}

	var findList func(n *html.Node)
	findList = func(n *html.Node) {
		if n.Type == html.ElementNode && hasClass(n, "resultfile-list") {
			collectAnchors(n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findList(c)
		}
	}
	findList(doc)

	return names, nil
}

// nodeText concatenates all text content beneath a node.
func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeText(c))
	}
	return sb.String()
}

// hasClass reports whether an element node carries the given class.
func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(attr.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}
