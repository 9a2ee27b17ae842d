package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/docpipe/internal/model"
)

// Backend converts a raw document into plain text. Implementations declare
// availability once at startup via Available; an unavailable backend is
// skipped by the chain without being tried at all.
type Backend interface {
	Name() string
	Available() bool
	Convert(ctx context.Context, doc *model.Document) (string, error)
}

// ReadabilityBackend extracts article text using go-readability.
// Fast and accurate on article-shaped HTML; fails on bare or exotic markup.
type ReadabilityBackend struct{}

func (ReadabilityBackend) Name() string    { return "readability" }
func (ReadabilityBackend) Available() bool { return true }

// Convert runs readability extraction over the document body.
func (ReadabilityBackend) Convert(_ context.Context, doc *model.Document) (string, error) {
	pageURL, _ := url.Parse(doc.URL)
	article, err := readability.FromReader(bytes.NewReader(doc.Body), pageURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return strings.TrimSpace(article.TextContent), nil
}

// DOMBackend extracts text by walking content-bearing elements with goquery.
// Heavier than readability but tolerates pages without article structure.
type DOMBackend struct{}

func (DOMBackend) Name() string    { return "dom" }
func (DOMBackend) Available() bool { return true }

// Convert collects heading, paragraph, list, code, and table cell text.
func (DOMBackend) Convert(_ context.Context, doc *model.Document) (string, error) {
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		return "", fmt.Errorf("parsing document: %w", err)
	}

	root.Find("script, style, nav, footer, aside").Remove()

	var b strings.Builder
	root.Find("h1, h2, h3, h4, h5, h6, p, li, pre, td, blockquote").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text == "" {
			return
		}
		if goquery.NodeName(sel) == "pre" {
			b.WriteString("```\n")
			b.WriteString(text)
			b.WriteString("\n```\n")
			return
		}
		b.WriteString(text)
		b.WriteString("\n")
	})

	return strings.TrimSpace(b.String()), nil
}

// PlaintextBackend is the last-resort backend: it strips markup from
// whatever bytes it is given and never returns an error.
type PlaintextBackend struct{}

func (PlaintextBackend) Name() string    { return "plaintext" }
func (PlaintextBackend) Available() bool { return true }

// Convert strips tags and normalizes whitespace.
func (PlaintextBackend) Convert(_ context.Context, doc *model.Document) (string, error) {
	return StripTags(string(doc.Body)), nil
}

// StripTags removes HTML tags, decodes common entities, and collapses
// whitespace.
func StripTags(text string) string {
	var result strings.Builder
	inTag := false
	for _, r := range text {
		if r == '<' {
			inTag = true
			result.WriteRune(' ')
			continue
		}
		if r == '>' {
			inTag = false
			continue
		}
		if !inTag {
			result.WriteRune(r)
		}
	}

	s := result.String()
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&lt;", "<")
	s = strings.ReplaceAll(s, "&gt;", ">")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	s = strings.ReplaceAll(s, "&#39;", "'")

	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// DefaultBackends returns the standard chain order: cheap article-aware
// extraction first, DOM walking second, raw tag stripping last.
func DefaultBackends() []Backend {
	return []Backend{ReadabilityBackend{}, DOMBackend{}, PlaintextBackend{}}
}
