package epub

import (
	"bytes"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var mdConverter = converter.NewConverter(
	converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
	),
)

// chapterFromHTML converts one chapter document to a title and structured
// markdown text. When the markdown conversion fails, the raw text content of
// the document is used as a fallback so a chapter is never lost to styling.
func chapterFromHTML(data []byte) (string, string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", "", err
	}
	title := findHTMLTitle(doc)
	if title == "" {
		title = findFirstHeading(doc)
	}

	text, err := mdConverter.ConvertString(string(data))
	if err != nil || strings.TrimSpace(text) == "" {
		text = collectHTMLText(doc)
	}
	return title, strings.TrimSpace(text), nil
}

// findHTMLTitle extracts the <title> text.
func findHTMLTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findHTMLTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findFirstHeading(n *html.Node) string {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.H1, atom.H2, atom.H3:
			return strings.Join(strings.Fields(collectHTMLText(n)), " ")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findFirstHeading(c); t != "" {
			return t
		}
	}
	return ""
}

// collectHTMLText gathers all text nodes under n, skipping script and style.
func collectHTMLText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Li, atom.Br:
				b.WriteString("\n\n")
			}
		}
	}
	walk(n)
	return strings.TrimSpace(b.String())
}
