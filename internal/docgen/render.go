package docgen

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// RenderMarkdown renders the page of one file.
func RenderMarkdown(doc *FileDoc) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Path)
	if doc.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", doc.Summary)
	}
	for _, group := range groups(doc) {
		fmt.Fprintf(&b, "## %s\n\n", group.title)
		for _, item := range group.items {
			fmt.Fprintf(&b, "### `%s`\n\n", item.Name)
			fmt.Fprintf(&b, "```%s\n%s\n```\n\n", doc.Language, item.Signature)
			if item.Doc != "" {
				fmt.Fprintf(&b, "%s\n\n", item.Doc)
			}
			fmt.Fprintf(&b, "_line %d_\n\n", item.Line)
		}
	}

	return b.String()
}

// RenderIndex renders the Markdown index of every page.
func RenderIndex(index *Index) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", index.Title)
	fmt.Fprintf(&b, "| File | Language | Items |\n|---|---|---|\n")
	for _, doc := range index.Files {
		fmt.Fprintf(&b, "| [%s](%s) | %s | %d |\n", doc.Path, PageName(doc.Path), doc.Language, len(doc.Items))
	}

	return b.String()
}

type itemGroup struct {
	title string
	items []Item
}

var groupTitles = []struct {
	kind  string
	title string
}{
	{KindClass, "Classes"},
	{KindStruct, "Structures"},
	{KindFunction, "Functions"},
	{KindMethod, "Methods"},
	{KindDefine, "Macros"},
}

func groups(doc *FileDoc) []itemGroup {
	res := []itemGroup{}
	for _, gt := range groupTitles {
		g := itemGroup{title: gt.title}
		for _, item := range doc.Items {
			if item.Kind == gt.kind {
				g.items = append(g.items, item)
			}
		}
		if len(g.items) > 0 {
			res = append(res, g)
		}
	}

	return res
}

var htmlTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
pre { background: #f4f4f4; padding: .5em; }
.kind { color: #666; font-size: small; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<ul>
{{range .Files}}<li><a href="#{{.Path}}">{{.Path}}</a> ({{len .Items}})</li>
{{end}}</ul>
{{range .Files}}<section id="{{.Path}}">
<h2>{{.Path}}</h2>
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
{{range .Items}}<h3>{{.Name}} <span class="kind">{{.Kind}}, line {{.Line}}</span></h3>
<pre>{{.Signature}}</pre>
{{if .Doc}}<p>{{.Doc}}</p>{{end}}
{{end}}</section>
{{end}}</body>
</html>
`))

// RenderHTML writes a single page HTML index. Content is escaped.
func RenderHTML(w io.Writer, index *Index) error {
	err := htmlTemplate.Execute(w, index)
	if err != nil {
		return errors.Wrap(err, "unable to render html")
	}

	return nil
}
