package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"PaperBlogBot/internal/domain"
	"PaperBlogBot/internal/ports"
)

const (
	generateItemLimit    = 30
	generateSummaryLimit = 600
	generateTextLimit    = 800
)

const generationSystemPrompt = "You write evidence-based health blog posts for a general audience. Cite the papers you are given and nothing else."

// Generator writes the blog post through the chat-completion service.
type Generator struct {
	llm Completer
}

var _ ports.Generator = (*Generator)(nil)

// NewGenerator wraps a completer.
func NewGenerator(llm Completer) *Generator {
	return &Generator{llm: llm}
}

// Generate asks for a complete HTML document and extracts it from the reply.
func (g *Generator) Generate(ctx context.Context, req ports.GenerateRequest) (ports.GeneratedDocument, error) {
	reply, err := g.llm.Complete(ctx, generationSystemPrompt, generationPrompt(req))
	if err != nil {
		return ports.GeneratedDocument{}, err
	}
	body, ok := htmlDocument(reply)
	if !ok {
		return ports.GeneratedDocument{}, domain.Malformed("parse document", errors.New("no html document in reply"))
	}
	return ports.GeneratedDocument{
		Title:  documentTitle(body, req.Topic),
		Format: "html",
		Body:   body,
	}, nil
}

func generationPrompt(req ports.GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a blog post about %q", req.Topic)
	if len(req.Subtopics) > 0 {
		fmt.Fprintf(&b, " focusing on %s", strings.Join(req.Subtopics, ", "))
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Opening style (%s): %s\n\n", req.Style.Name, req.Style.InstructionFor(req.Topic))
	b.WriteString("Papers:\n")

	items := req.Items
	if len(items) > generateItemLimit {
		items = items[:generateItemLimit]
	}
	for i, it := range items {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, clip(it.Title, scoreTitleLimit))
		if it.Journal != "" || it.Year != "" {
			fmt.Fprintf(&b, " (%s %s)", it.Journal, it.Year)
		}
		if it.URL != "" {
			fmt.Fprintf(&b, "\n%s", it.URL)
		}
		fmt.Fprintf(&b, "\nAbstract: %s", clip(it.Summary, generateSummaryLimit))
		if text := it.ExtendedText(); text != "" {
			fmt.Fprintf(&b, "\nFull-text findings: %s", clip(text, generateTextLimit))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nReturn one complete HTML document inside a ```html fence. Include a references section linking every cited paper.")
	return b.String()
}

func htmlDocument(reply string) (string, bool) {
	if body, ok := fenced(reply, "html"); ok && body != "" {
		return body, true
	}
	lower := strings.ToLower(reply)
	start := strings.Index(lower, "<html")
	end := strings.LastIndex(lower, "</html>")
	if start < 0 || end < start {
		return "", false
	}
	if doctype := strings.LastIndex(lower[:start], "<!doctype"); doctype >= 0 {
		start = doctype
	}
	return reply[start : end+len("</html>")], true
}

func documentTitle(body, fallback string) string {
	lower := strings.ToLower(body)
	start := strings.Index(lower, "<title>")
	end := strings.Index(lower, "</title>")
	if start < 0 || end < start {
		return fallback
	}
	if title := strings.TrimSpace(body[start+len("<title>") : end]); title != "" {
		return title
	}
	return fallback
}
