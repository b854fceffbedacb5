package core

import (
	"net/url"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Linkify))

// MarkdownEntities walks the Markdown AST of a thought and returns the hosts
// of any links plus the languages of fenced code blocks.
func MarkdownEntities(src string) []string {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var found []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			found = appendHost(found, string(node.Destination))
		case *ast.AutoLink:
			if node.AutoLinkType == ast.AutoLinkURL {
				found = appendHost(found, string(node.URL(source)))
			}
		case *ast.FencedCodeBlock:
			if lang := strings.ToLower(string(node.Language(source))); lang != "" {
				found = append(found, lang)
			}
		}
		return ast.WalkContinue, nil
	})
	return cleanList(found, maxEntities, maxEntityRunes, false)
}

func appendHost(out []string, dest string) []string {
	if !strings.Contains(dest, "://") {
		dest = "https://" + dest
	}
	u, err := url.Parse(dest)
	if err != nil || u.Hostname() == "" {
		return out
	}
	return append(out, strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."))
}

// mergeEntities combines model and Markdown entities, model first, without
// duplicates (case-insensitive).
func mergeEntities(model, md []string) []string {
	seen := make(map[string]bool, len(model)+len(md))
	var out []string
	for _, list := range [][]string{model, md} {
		for _, e := range list {
			k := strings.ToLower(e)
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, e)
		}
	}
	if len(out) > maxEntities {
		out = out[:maxEntities]
	}
	return out
}
