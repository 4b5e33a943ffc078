// Package model defines the entities owned exclusively by the Store:
// Account, Rule, Feed, and FeedItem.
package model

import "time"

// PostAction is the mailbox side effect performed after a FeedItem is
// materialized from a message. Unknown values parse to MarkAsRead.
type PostAction string

const (
	PostActionMarkAsRead   PostAction = "mark_as_read"
	PostActionDelete       PostAction = "delete"
	PostActionMoveToFolder PostAction = "move_to_folder"
	PostActionDoNothing    PostAction = "do_nothing"
)

// ParsePostAction parses a persisted or API-supplied string permissively:
// any value it doesn't recognize maps to MarkAsRead rather than failing.
func ParsePostAction(s string) PostAction {
	switch PostAction(s) {
	case PostActionMarkAsRead, PostActionDelete, PostActionMoveToFolder, PostActionDoNothing:
		return PostAction(s)
	default:
		return PostActionMarkAsRead
	}
}

// FeedType selects the syndication format a Feed renders as.
type FeedType string

const (
	FeedTypeRSS  FeedType = "rss"
	FeedTypeAtom FeedType = "atom"
)

// Account is a configured IMAP mailbox. The core never mutates an Account;
// it is created/updated/deleted entirely through the management API.
type Account struct {
	ID                string     `json:"id"`
	DisplayName       string     `json:"displayName"`
	Host              string     `json:"host"`
	Port              int        `json:"port"`
	Username          string     `json:"username"`
	Password          string     `json:"password,omitempty"` // decrypted plaintext, held only transiently in memory
	UseTLS            bool       `json:"useTls"`
	DefaultPostAction PostAction `json:"defaultPostAction"`
	DefaultMoveFolder string     `json:"defaultMoveFolder,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// Rule selects which messages in one folder of one Account become FeedItems.
type Rule struct {
	ID           string      `json:"id"`
	AccountID    string      `json:"accountId"`
	DisplayName  string      `json:"displayName"`
	Folder       string      `json:"folder"`
	MatchTo      *string     `json:"matchTo,omitempty"`
	MatchFrom    *string     `json:"matchFrom,omitempty"`
	MatchSubject *string     `json:"matchSubject,omitempty"`
	Label        string      `json:"label,omitempty"`
	Active       bool        `json:"active"`
	PostAction   *PostAction `json:"postAction,omitempty"`
	MoveFolder   string      `json:"moveFolder,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// EffectivePostAction returns rule.PostAction if set, else acct.DefaultPostAction.
func (r *Rule) EffectivePostAction(acct *Account) PostAction {
	if r.PostAction != nil {
		return *r.PostAction
	}
	return acct.DefaultPostAction
}

// EffectiveMoveFolder returns rule.MoveFolder if set, else acct.DefaultMoveFolder.
func (r *Rule) EffectiveMoveFolder(acct *Account) string {
	if r.MoveFolder != "" {
		return r.MoveFolder
	}
	return acct.DefaultMoveFolder
}

// Feed is the materialization of one Rule as a syndication channel.
type Feed struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"ruleId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Link        string    `json:"link,omitempty"`
	FeedType    FeedType  `json:"feedType"`
	Active      bool      `json:"active"`
	MaxItems    int       `json:"maxItems"`
	MaxAgeDays  int       `json:"maxAgeDays"`
	MinItems    int       `json:"minItems"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

const (
	DefaultMaxItems   = 100
	DefaultMaxAgeDays = 30
	DefaultMinItems   = 10
)

// NormalizeRetention fills zero fields with the documented defaults. Zero
// values are indistinguishable from "unset" at the Go level by design —
// callers that need an explicit "no limit" use a negative sentinel.
func (f *Feed) NormalizeRetention() {
	if f.MaxItems == 0 {
		f.MaxItems = DefaultMaxItems
	}
	if f.MaxAgeDays == 0 {
		f.MaxAgeDays = DefaultMaxAgeDays
	}
	if f.MinItems == 0 {
		f.MinItems = DefaultMinItems
	}
}

// FeedItem is one entry materialized into a Feed from a matched message.
type FeedItem struct {
	ID             string    `json:"id"`
	FeedID         string    `json:"feedId"`
	Title          string    `json:"title"`
	Description    string    `json:"description,omitempty"`
	Link           string    `json:"link,omitempty"`
	Author         string    `json:"author,omitempty"`
	PubDate        time.Time `json:"pubDate"`
	EmailMessageID string    `json:"emailMessageId,omitempty"`
	EmailSubject   string    `json:"emailSubject,omitempty"`
	EmailFrom      string    `json:"emailFrom,omitempty"`
	EmailBody      string    `json:"emailBody,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	IsRead         bool      `json:"isRead"`
	Starred        bool      `json:"starred"`
	BodySize       int       `json:"bodySize"`
}
