package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmartID(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		content string
		id      string
		want    string
	}{
		{"four words", "t", "Use Redis for caching layer", "t_01hx7k9zq3abcdefa1b2", "t-use-redis-for-caching-a1b2"},
		{"symbols stripped", "t", "Fix: the #1 bug!", "t_xyz9f00d", "t-fix-the-1-bug-f00d"},
		{"empty text", "t", "", "t_0000beef", "t-untitled-beef"},
		{"symbol only", "t", "?!? ... ###", "t_0000cafe", "t-untitled-cafe"},
		{"conversation prefix", "conv", "Planning the Q3 roadmap", "conv_01hx0000dead", "conv-planning-the-q3-roadmap-dead"},
		{"length capped", "t", "Supercalifragilisticexpialidocious extraordinarily long words", "t_aaaa1234", "t-supercalifragilisticexpialidoc-1234"},
		{"whitespace collapsed", "t", "  spaced\t\tout \n words  here too", "t_zz99", "t-spaced-out-words-here-zz99"},
		{"separators removed from suffix", "t", "hello", "t_ab-c_d", "t-hello-abcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SmartID(tt.prefix, tt.content, tt.id))
		})
	}
}

func TestSmartID_Deterministic(t *testing.T) {
	id := NewThoughtID()
	a := SmartIDFor("Ship the sync gateway", id)
	b := SmartIDFor("Ship the sync gateway", id)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "t-ship-the-sync-gateway-"))
}

func TestSlug_CapTrimsTrailingHyphen(t *testing.T) {
	// "aaaaaaaaaaaaaaaaaaaaaaaaaaaaa-b" would be cut right after the hyphen.
	slug := Slug(strings.Repeat("a", 29) + " bbb")
	assert.Equal(t, strings.Repeat("a", 29), slug)
	assert.LessOrEqual(t, len(slug), 30)
}

func TestNewIDs(t *testing.T) {
	tid := NewThoughtID()
	require.True(t, strings.HasPrefix(tid, "t_"))
	assert.Len(t, tid, 2+26)
	assert.Equal(t, strings.ToLower(tid), tid)

	cid := NewConversationID()
	require.True(t, strings.HasPrefix(cid, "conv_"))
	assert.Equal(t, ConversationPrefix, PrefixOf(cid))
	assert.Equal(t, ThoughtPrefix, PrefixOf(tid))

	assert.NotEqual(t, tid[2:], NewThoughtID()[2:])
}
