package crawler

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// boilerplateSelector lists elements that never hold article text.
const boilerplateSelector = "script, style, noscript, nav, footer, header"

// contentSelectors are tried in order; the first one with text wins.
// The first two match MediaWiki article bodies.
var contentSelectors = []string{
	"#mw-content-text",
	".mw-parser-output",
	"main",
	"article",
}

// ExtractContent returns the page title and its main text. Text nodes are
// trimmed and joined with single spaces.
func ExtractContent(doc *goquery.Document) (title, text string) {
	title = strings.TrimSpace(doc.Find("title").First().Text())

	root := doc.Selection.Clone()
	root.Find(boilerplateSelector).Remove()

	for _, selector := range contentSelectors {
		match := root.Find(selector).First()
		if match.Length() == 0 {
			continue
		}
		if text = SelectionText(match); text != "" {
			return title, text
		}
	}

	body := root.Find("body")
	if body.Length() == 0 {
		body = root
	}
	return title, SelectionText(body)
}

// SelectionText collects the trimmed text nodes under s, separated by one
// space.
func SelectionText(s *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		case html.CommentNode:
			return
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "template":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range s.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}
