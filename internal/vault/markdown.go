package vault

import (
	"bytes"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thoughtstream/thoughtstream/internal/store"
)

const (
	thoughtsDir      = "thoughts"
	conversationsDir = "conversations"
)

type thoughtFrontmatter struct {
	ID       string   `yaml:"id"`
	SmartID  string   `yaml:"smart_id"`
	Type     string   `yaml:"type"`
	Tags     []string `yaml:"tags,omitempty"`
	AutoTags []string `yaml:"auto_tags,omitempty"`
	Category string   `yaml:"category,omitempty"`
	Intent   string   `yaml:"intent,omitempty"`
	Entities []string `yaml:"entities,omitempty"`
	Related  []string `yaml:"related,omitempty"`
	App      string   `yaml:"app,omitempty"`
	Repo     string   `yaml:"repo,omitempty"`
	File     string   `yaml:"file,omitempty"`
	Branch   string   `yaml:"branch,omitempty"`
	Created  string   `yaml:"created"`
	Updated  string   `yaml:"updated"`
}

type conversationFrontmatter struct {
	ID      string `yaml:"id"`
	SmartID string `yaml:"smart_id"`
	Title   string `yaml:"title,omitempty"`
	Status  string `yaml:"status"`
	Created string `yaml:"created"`
	Updated string `yaml:"updated"`
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// safeName keeps server-supplied names inside their directory.
func safeName(name string) string {
	name = strings.Trim(unsafeNameChars.ReplaceAllString(name, "-"), "-")
	if name == "" {
		return "untitled"
	}
	return name
}

func thoughtPath(t *store.Thought) string {
	return path.Join(thoughtsDir, safeName(t.SmartID)+".md")
}

func conversationPath(c *store.Conversation) string {
	return path.Join(conversationsDir, safeName(c.SmartID)+".md")
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// link renders a wiki link to another note, falling back to the raw id when
// the note is not in the vault.
func link(files map[string]string, id string) string {
	if p, ok := files[id]; ok {
		return "[[" + strings.TrimSuffix(path.Base(p), ".md") + "]]"
	}
	return id
}

// RenderThought renders a thought as a Markdown note.
func RenderThought(t *store.Thought, files map[string]string) ([]byte, error) {
	fm := thoughtFrontmatter{
		ID:      t.ID,
		SmartID: t.SmartID,
		Type:    t.Type,
		Tags:    t.Tags,
		Created: formatMillis(t.CreatedAt),
		Updated: formatMillis(t.ChangedAt()),
	}
	if t.Context != nil {
		fm.App, fm.Repo, fm.File, fm.Branch = t.Context.App, t.Context.Repo, t.Context.File, t.Context.Branch
	}
	d := t.Derived
	if d != nil {
		fm.AutoTags = d.AutoTags
		fm.Category = d.Category
		fm.Intent = d.Intent
		fm.Entities = d.Entities
		fm.Related = d.RelatedIDs
	}

	var body bytes.Buffer
	body.WriteString(strings.TrimSpace(t.Text))
	body.WriteString("\n")
	if d != nil && d.Summary != "" {
		fmt.Fprintf(&body, "\n## Summary\n\n%s\n", d.Summary)
	}
	if d != nil && len(d.RelatedIDs) > 0 {
		body.WriteString("\n## Related\n\n")
		for _, id := range d.RelatedIDs {
			fmt.Fprintf(&body, "- %s\n", link(files, id))
		}
	}
	return withFrontmatter(fm, body.Bytes())
}

// RenderConversation renders a conversation as a Markdown note with one
// section per message.
func RenderConversation(c *store.Conversation, files map[string]string) ([]byte, error) {
	fm := conversationFrontmatter{
		ID:      c.ID,
		SmartID: c.SmartID,
		Title:   c.Title,
		Status:  c.Status,
		Created: formatMillis(c.CreatedAt),
		Updated: formatMillis(c.UpdatedAt),
	}

	var body bytes.Buffer
	if c.Title != "" {
		fmt.Fprintf(&body, "# %s\n", c.Title)
	}
	for _, m := range c.Messages {
		fmt.Fprintf(&body, "\n## %s · %s\n\n%s\n", m.Role, formatMillis(m.CreatedAt), strings.TrimSpace(m.Content))
		if len(m.Citations) > 0 {
			body.WriteString("\nSources:\n")
			for _, cit := range m.Citations {
				fmt.Fprintf(&body, "- %s\n", link(files, cit.ID))
			}
		}
	}
	return withFrontmatter(fm, body.Bytes())
}

func withFrontmatter(fm any, body []byte) ([]byte, error) {
	head, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	var out bytes.Buffer
	out.WriteString("---\n")
	out.Write(head)
	out.WriteString("---\n\n")
	out.Write(body)
	return out.Bytes(), nil
}
