// Package browsertest provides in-memory browser collaborators for tests.
package browsertest

import (
	"context"
	"net/url"
	"sync"

	"chatnav/internal/browser"
)

// HistoryEntry is one PushState call.
type HistoryEntry struct {
	URL   string
	Title string
}

// Browser keeps a location, a title and the pushed history in memory.
type Browser struct {
	mu        sync.Mutex
	loc       browser.Location
	title     string
	history   []HistoryEntry
	tabs      []string
	clipboard string
}

func New(origin, pathname string) *Browser {
	return &Browser{loc: browser.Location{Origin: origin, Pathname: pathname}}
}

// SetLocation replaces the location, as typing a URL or going back would.
func (b *Browser) SetLocation(search, hash string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loc.Search = search
	b.loc.Hash = hash
}

func (b *Browser) Location(context.Context) (browser.Location, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loc, nil
}

func (b *Browser) PushState(_ context.Context, rawURL, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Path != "" {
		b.loc.Pathname = u.Path
	}
	b.loc.Search = ""
	if u.RawQuery != "" {
		b.loc.Search = "?" + u.RawQuery
	}
	b.loc.Hash = ""
	if u.Fragment != "" {
		b.loc.Hash = "#" + u.EscapedFragment()
	}
	b.history = append(b.history, HistoryEntry{URL: rawURL, Title: title})
	return nil
}

func (b *Browser) SetTitle(_ context.Context, title string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.title = title
	return nil
}

func (b *Browser) OpenTab(_ context.Context, rawURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs = append(b.tabs, rawURL)
	return nil
}

func (b *Browser) WriteClipboard(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clipboard = text
	return nil
}

func (b *Browser) Title() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.title
}

func (b *Browser) History() []HistoryEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]HistoryEntry(nil), b.history...)
}

func (b *Browser) Tabs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tabs...)
}

func (b *Browser) Clipboard() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clipboard
}

// Transcript holds the set of rendered message ids.
type Transcript struct {
	mu          sync.Mutex
	rendered    map[int]bool
	highlighted map[int]bool
	scrolled    []int
	lookups     int
	// RenderAfter makes a message appear after that many failed lookups.
	RenderAfter map[int]int
}

func NewTranscript(ids ...int) *Transcript {
	t := &Transcript{
		rendered:    make(map[int]bool),
		highlighted: make(map[int]bool),
		RenderAfter: make(map[int]int),
	}
	for _, id := range ids {
		t.rendered[id] = true
	}
	return t
}

func (t *Transcript) HasMessage(_ context.Context, messageID int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lookups++
	if n, ok := t.RenderAfter[messageID]; ok {
		if n <= 0 {
			t.rendered[messageID] = true
		} else {
			t.RenderAfter[messageID] = n - 1
		}
	}
	return t.rendered[messageID], nil
}

func (t *Transcript) ScrollToMessage(_ context.Context, messageID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scrolled = append(t.scrolled, messageID)
	return nil
}

func (t *Transcript) SetHighlight(_ context.Context, messageID int, on bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.highlighted[messageID] = on
	return nil
}

func (t *Transcript) Lookups() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lookups
}

func (t *Transcript) Scrolled() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.scrolled...)
}

func (t *Transcript) Highlighted(messageID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.highlighted[messageID]
}

// Notice is one message shown through the Notifier.
type Notice struct {
	Level   string
	Message string
}

type Notifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *Notifier) add(level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, Notice{Level: level, Message: message})
}

func (n *Notifier) Success(_ context.Context, message string) { n.add("success", message) }
func (n *Notifier) Info(_ context.Context, message string)    { n.add("info", message) }
func (n *Notifier) Warning(_ context.Context, message string) { n.add("warning", message) }
func (n *Notifier) Error(_ context.Context, message string)   { n.add("error", message) }

func (n *Notifier) Notices() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

// Errors returns the messages shown at error level.
func (n *Notifier) Errors() []string {
	var out []string
	for _, notice := range n.Notices() {
		if notice.Level == "error" {
			out = append(out, notice.Message)
		}
	}
	return out
}
