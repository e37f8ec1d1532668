// Package render produces the blog post offline from a fixed template. It is
// used when no chat-completion key is configured.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

var page = template.Must(template.New("post").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<article>
<h1>{{.Title}}</h1>
<p class="meta">{{.Date}}{{if .Subtopics}} · {{range $i, $s := .Subtopics}}{{if $i}}, {{end}}{{$s}}{{end}}{{end}}</p>
<p class="hook"><em>{{.Hook}}</em></p>
{{range .Items}}
<section>
<h2>{{.Title}}</h2>
{{if or .Journal .Year}}<p class="source">{{.Journal}} {{.Year}}</p>{{end}}
<p>{{.Summary}}</p>
{{with .ExtendedText}}<blockquote>{{.}}</blockquote>{{end}}
</section>
{{end}}
<h2>References</h2>
<ol>
{{range .Items}}<li>{{if .URL}}<a href="{{.URL}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}{{if .Authors}} ({{index .Authors 0}}{{if gt (len .Authors) 1}} et al.{{end}}){{end}}</li>
{{end}}</ol>
</article>
</body>
</html>
`))

// Generator renders accepted items into a static HTML post.
type Generator struct {
	now func() time.Time
}

var _ ports.Generator = (*Generator)(nil)

// NewGenerator builds the offline generator.
func NewGenerator() *Generator {
	return &Generator{now: time.Now}
}

type pageData struct {
	Title     string
	Date      string
	Hook      string
	Subtopics []string
	Items     []domain.Item
}

// Generate fills the template. It only fails when the template itself does.
func (g *Generator) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GeneratedDocument, error) {
	if err := ctx.Err(); err != nil {
		return ports.GeneratedDocument{}, context.Cause(ctx)
	}

	title := fmt.Sprintf("What research says about %s", req.Topic)
	var buf bytes.Buffer
	err := page.Execute(&buf, pageData{
		Title:     title,
		Date:      g.now().Format("2 January 2006"),
		Hook:      req.Style.InstructionFor(req.Topic),
		Subtopics: req.Subtopics,
		Items:     req.Items,
	})
	if err != nil {
		return ports.GeneratedDocument{}, fmt.Errorf("render post: %w", err)
	}
	return ports.GeneratedDocument{Title: title, Format: "html", Body: buf.String()}, nil
}
