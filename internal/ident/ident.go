// Package ident mints primary identifiers and derives the human-readable
// smart identifiers used as export filenames.
package ident

import (
	"crypto/rand"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	ThoughtPrefix      = "t"
	ConversationPrefix = "conv"

	maxSlugLen  = 30
	slugWords   = 4
	suffixLen   = 4
	untitledTok = "untitled"
)

var nonSlugChars = regexp.MustCompile(`[^a-z0-9\s]`)

// NewThoughtID returns "t_" followed by a lower-case ULID.
func NewThoughtID() string {
	return ThoughtPrefix + "_" + newULID()
}

// NewConversationID returns "conv_" followed by a lower-case ULID.
func NewConversationID() string {
	return ConversationPrefix + "_" + newULID()
}

func newULID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String())
}

// PrefixOf returns the smart-id prefix for a primary id: "conv" for
// conversation ids, "t" otherwise.
func PrefixOf(id string) string {
	if strings.HasPrefix(id, ConversationPrefix+"_") {
		return ConversationPrefix
	}
	return ThoughtPrefix
}

// Slug lower-cases the first four words of content, drops everything outside
// [a-z0-9] and whitespace, and joins the remaining words with "-".
func Slug(content string) string {
	words := strings.Fields(content)
	if len(words) > slugWords {
		words = words[:slugWords]
	}
	cleaned := nonSlugChars.ReplaceAllString(strings.ToLower(strings.Join(words, " ")), "")
	slug := strings.Join(strings.Fields(cleaned), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		return untitledTok
	}
	return slug
}

// Suffix returns the last four characters of the id's random component,
// with the kind prefix and separators removed.
func Suffix(id string) string {
	random := id
	if i := strings.Index(random, "_"); i >= 0 {
		random = random[i+1:]
	}
	random = strings.NewReplacer("_", "", "-", "").Replace(random)
	if len(random) <= suffixLen {
		return random
	}
	return random[len(random)-suffixLen:]
}

// SmartID derives "{prefix}-{slug}-{suffix}" from content and the primary id.
// It is pure: the same (content, id) always yields the same value.
func SmartID(prefix, content, id string) string {
	return prefix + "-" + Slug(content) + "-" + Suffix(id)
}

// SmartIDFor picks the prefix from the id itself.
func SmartIDFor(content, id string) string {
	return SmartID(PrefixOf(id), content, id)
}
