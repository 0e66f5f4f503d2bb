package chrome

import (
	"context"
	"fmt"

	"chatnav/internal/browser"
)

const noticeTitle = "Chat URL Navigator"

// Page exposes the tab's location, history and rendered transcript.
type Page struct {
	s *Session
}

func (s *Session) Page() *Page {
	return &Page{s: s}
}

func (p *Page) Location(ctx context.Context) (browser.Location, error) {
	var loc browser.Location
	if err := p.s.eval(ctx, locationScript, &loc); err != nil {
		return browser.Location{}, fmt.Errorf("read location: %w", err)
	}
	return loc, nil
}

func (p *Page) PushState(ctx context.Context, url, title string) error {
	script := fmt.Sprintf(`(() => { %s; document.title = %s; return true; })()`,
		call("history.pushState", nil, title, url), call("String", title))
	return p.s.eval(ctx, script, nil)
}

func (p *Page) SetTitle(ctx context.Context, title string) error {
	return p.s.eval(ctx, fmt.Sprintf(`(() => { document.title = %s; return true; })()`, call("String", title)), nil)
}

// OpenTab opens url in a new tab that is driven like this one.
func (p *Page) OpenTab(ctx context.Context, url string) error {
	_, err := p.s.OpenTab(ctx, url)
	return err
}

func (p *Page) WriteClipboard(ctx context.Context, text string) error {
	return p.s.eval(ctx, call(clipboardScript, text), nil)
}

func (p *Page) HasMessage(ctx context.Context, messageID int) (bool, error) {
	var found bool
	script := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(messageSelector(messageID)))
	if err := p.s.eval(ctx, script, &found); err != nil {
		return false, err
	}
	return found, nil
}

func (p *Page) ScrollToMessage(ctx context.Context, messageID int) error {
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el) return false;
	el.scrollIntoView({ behavior: 'instant', block: 'start' });
	return true;
})()`, jsString(messageSelector(messageID)))
	return p.s.eval(ctx, script, nil)
}

func (p *Page) SetHighlight(ctx context.Context, messageID int, on bool) error {
	script := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (el) el.classList.toggle(%s, %t);
	return true;
})()`, jsString(messageSelector(messageID)), jsString(highlightClass), on)
	return p.s.eval(ctx, script, nil)
}

// Toasts shows notices through the application's toastr instance. Failures
// are logged; a notice is never worth failing an operation over.
type Toasts struct {
	s *Session
}

func (s *Session) Toasts() *Toasts {
	return &Toasts{s: s}
}

func (t *Toasts) Success(ctx context.Context, message string) { t.show(ctx, "success", message) }
func (t *Toasts) Info(ctx context.Context, message string)    { t.show(ctx, "info", message) }
func (t *Toasts) Warning(ctx context.Context, message string) { t.show(ctx, "warning", message) }
func (t *Toasts) Error(ctx context.Context, message string)   { t.show(ctx, "error", message) }

func (t *Toasts) show(ctx context.Context, level, message string) {
	if err := t.s.eval(ctx, call(toastScript, level, message, noticeTitle), nil); err != nil {
		t.s.logger.Warn().Err(err).Str("level", level).Str("message", message).Msg("show notice")
	}
}

func jsString(s string) string {
	return call("String", s)
}
