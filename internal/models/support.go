package models

import "time"

const (
	ThreadStatusOpen   = "open"
	ThreadStatusClosed = "closed"

	// SupportListLimit caps thread and message listings.
	SupportListLimit = 500
	// SupportMessageMaxLen is the longest message text accepted, in runes.
	SupportMessageMaxLen = 4000
)

// SupportThread is one conversation between a visitor and the support desk.
type SupportThread struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`

	LastMessage         *SupportLastMessage `json:"lastMessage,omitempty"`
	LastReadBySupportAt *time.Time          `json:"lastReadBySupportAt,omitempty"`
	LastReadByMemberAt  *time.Time          `json:"lastReadByMemberAt,omitempty"`
	LastMemberMessageAt *time.Time          `json:"lastMemberMessageAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UnreadBySupport is true when the member wrote after support last looked.
func (t *SupportThread) UnreadBySupport() bool {
	if t.LastMemberMessageAt == nil {
		return false
	}
	seen := t.CreatedAt
	if t.LastReadBySupportAt != nil {
		seen = *t.LastReadBySupportAt
	}
	return t.LastMemberMessageAt.After(seen)
}

type SupportLastMessage struct {
	From      string    `json:"from"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

type SupportMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"threadId"`
	From      string    `json:"from"` // member, support
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// SupportIdentity updates who a thread belongs to; empty fields are left alone.
type SupportIdentity struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// SupportThreadSummary is a thread as the support inbox lists it.
type SupportThreadSummary struct {
	*SupportThread
	Unread bool `json:"unread"`
}

// SupportConversation is a thread with its messages and who is typing.
type SupportConversation struct {
	Thread   *SupportThread    `json:"thread"`
	Messages []*SupportMessage `json:"messages"`
	Typing   TypingState       `json:"typing"`
}
