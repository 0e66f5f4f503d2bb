// Package browser describes the page-side capabilities the navigator needs:
// the location and history of the tab, the rendered transcript, and
// user-visible notices.
package browser

import (
	"context"
	"strings"
)

// Location is the browser-owned address of the tab.
type Location struct {
	Origin   string `json:"origin"`
	Pathname string `json:"pathname"`
	Search   string `json:"search"`
	Hash     string `json:"hash"`
}

// Bare reports whether the location carries neither a query nor a fragment.
func (l Location) Bare() bool {
	return strings.TrimPrefix(l.Search, "?") == "" && strings.TrimPrefix(l.Hash, "#") == ""
}

// Relative renders pathname, query and fragment.
func (l Location) Relative() string {
	return l.Pathname + l.Search + l.Hash
}

// WithQuery returns an absolute URL at the same pathname with the given query
// (no leading "?") and no fragment.
func (l Location) WithQuery(query string) string {
	if query == "" {
		return l.Origin + l.Pathname
	}
	return l.Origin + l.Pathname + "?" + query
}

type Browser interface {
	Location(ctx context.Context) (Location, error)
	// PushState adds a history entry for url (relative or absolute) and sets
	// the entry title.
	PushState(ctx context.Context, url, title string) error
	SetTitle(ctx context.Context, title string) error
	OpenTab(ctx context.Context, url string) error
	WriteClipboard(ctx context.Context, text string) error
}

// Transcript gives access to the rendered messages of the open chat.
type Transcript interface {
	HasMessage(ctx context.Context, messageID int) (bool, error)
	// ScrollToMessage scrolls without animation, aligning the message top.
	ScrollToMessage(ctx context.Context, messageID int) error
	SetHighlight(ctx context.Context, messageID int, on bool) error
}

// Notifier shows short user-visible notices.
type Notifier interface {
	Success(ctx context.Context, message string)
	Info(ctx context.Context, message string)
	Warning(ctx context.Context, message string)
	Error(ctx context.Context, message string)
}
