package emit

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const defaultShell = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title></title>
</head>
<body>
<noscript>You need to enable JavaScript to run this app.</noscript>
<div id="root"></div>
</body>
</html>
`

// renderHTML injects stylesheet links into <head> and deferred chunk scripts
// into <body>. A nil template uses the built-in shell titled title.
// %PUBLIC_URL% in the template is replaced by the public path without its
// trailing slash.
func renderHTML(template []byte, title, publicPath string, stylesheets, scripts []string) ([]byte, error) {
	builtin := template == nil
	source := defaultShell
	if !builtin {
		source = strings.ReplaceAll(string(template), "%PUBLIC_URL%", strings.TrimSuffix(publicPath, "/"))
	}

	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("failed to parse html template: %w", err)
	}

	head := findElement(doc, atom.Head)
	body := findElement(doc, atom.Body)
	if head == nil || body == nil {
		return nil, fmt.Errorf("html template has no head or body")
	}

	if builtin {
		if t := findElement(head, atom.Title); t != nil {
			t.AppendChild(&html.Node{Type: html.TextNode, Data: title})
		}
	}

	for _, href := range stylesheets {
		head.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "link",
			DataAtom: atom.Link,
			Attr: []html.Attribute{
				{Key: "rel", Val: "stylesheet"},
				{Key: "href", Val: href},
			},
		})
	}

	for _, src := range scripts {
		body.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "script",
			DataAtom: atom.Script,
			Attr: []html.Attribute{
				{Key: "defer"},
				{Key: "src", Val: src},
			},
		})
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	return buf.Bytes(), nil
}

// findElement returns the first element with the given atom in document order
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
