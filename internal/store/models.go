package store

// Thought types accepted by the capture path.
const (
	TypeNote     = "note"
	TypeDecision = "decision"
	TypeInsight  = "insight"
	TypeCode     = "code"
	TypeTodo     = "todo"
	TypeLink     = "link"
)

// ThoughtTypes lists every valid thought type.
var ThoughtTypes = []string{TypeNote, TypeDecision, TypeInsight, TypeCode, TypeTodo, TypeLink}

// Conversation statuses and message roles.
const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"

	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Tombstone kinds.
const (
	KindThought      = "thought"
	KindConversation = "conversation"
)

// Context records where a thought was captured from. All fields are optional.
type Context struct {
	App    string `json:"app,omitempty"`
	Repo   string `json:"repo,omitempty"`
	File   string `json:"file,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// IsZero reports whether no field is set.
func (c *Context) IsZero() bool {
	return c == nil || (c.App == "" && c.Repo == "" && c.File == "" && c.Branch == "")
}

type Thought struct {
	ID        string   `json:"id"`
	SmartID   string   `json:"smartId"`
	Text      string   `json:"text"`
	Type      string   `json:"type"`
	Tags      []string `json:"tags"`
	Context   *Context `json:"context,omitempty"`
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	Derived   *Derived `json:"derived,omitempty"`
	DeletedAt int64    `json:"-"`
}

// ChangedAt is the latest change to the thought or its derived fields.
func (t *Thought) ChangedAt() int64 {
	if t.Derived != nil && t.Derived.UpdatedAt > t.UpdatedAt {
		return t.Derived.UpdatedAt
	}
	return t.UpdatedAt
}

// Derived holds the enrichment output for a thought. A Derived value always
// carries an embedding; the vector itself is never serialized.
type Derived struct {
	Summary    string    `json:"summary,omitempty"`
	AutoTags   []string  `json:"autoTags,omitempty"`
	Category   string    `json:"category,omitempty"`
	Intent     string    `json:"intent,omitempty"`
	Entities   []string  `json:"entities,omitempty"`
	RelatedIDs []string  `json:"relatedIds,omitempty"`
	DerivedAt  int64     `json:"derivedAt"`
	UpdatedAt  int64     `json:"updatedAt"`
	Embedding  []float32 `json:"-"`
}

// DerivedUpdate is one enrichment pass. Empty fields leave stored values alone.
type DerivedUpdate struct {
	Summary    string
	AutoTags   []string
	Category   string
	Intent     string
	Entities   []string
	RelatedIDs []string
	Embedding  []float32
}

type Conversation struct {
	ID        string    `json:"id"`
	SmartID   string    `json:"smartId"`
	Title     string    `json:"title,omitempty"`
	Status    string    `json:"status"`
	CreatedAt int64     `json:"createdAt"`
	UpdatedAt int64     `json:"updatedAt"`
	Messages  []Message `json:"messages"`
	DeletedAt int64     `json:"-"`
}

type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"-"`
	Role           string     `json:"role"`
	Content        string     `json:"content"`
	CreatedAt      int64      `json:"createdAt"`
	Citations      []Citation `json:"citations,omitempty"`
}

// Citation points an answer back at the thought that supports it.
type Citation struct {
	ID        string   `json:"id"`
	Preview   string   `json:"preview"`
	Score     float64  `json:"score"`
	CreatedAt int64    `json:"createdAt"`
	Type      string   `json:"type,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type Tombstone struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	DeletedAt int64  `json:"deletedAt"`
}

// QueueMessage is a claimed enrichment job.
type QueueMessage struct {
	Seq        int64
	ItemID     string
	EnqueuedAt int64
	Attempts   int
}

type DeadLetter struct {
	Seq        int64  `json:"seq"`
	ItemID     string `json:"itemId"`
	EnqueuedAt int64  `json:"enqueuedAt"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"lastError"`
	FailedAt   int64  `json:"failedAt"`
}

// ListFilter selects a page of thoughts, newest first.
type ListFilter struct {
	Type   string
	Tag    string
	Cursor string
	Limit  int
}

type ThoughtPage struct {
	Items   []Thought `json:"items"`
	Cursor  string    `json:"cursor,omitempty"`
	HasMore bool      `json:"hasMore"`
}

// CorpusFilter restricts the thoughts loaded for search and graph building.
// Zero bounds are open.
type CorpusFilter struct {
	CreatedFrom  int64
	CreatedUntil int64
	Tags         []string
}

// Snapshot is one consistent read of everything that changed in (Since, Watermark].
type Snapshot struct {
	Since         int64
	Watermark     int64
	Thoughts      []Thought
	Conversations []Conversation
	Deleted       []Tombstone
}
