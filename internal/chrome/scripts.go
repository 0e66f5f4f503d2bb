package chrome

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// highlightClass flashes a deep-linked message.
const highlightClass = "chatnav-highlight"

// bridgeScript runs in every document of the tab. It forwards history
// events right away and hooks the application's own events once its context
// API shows up.
const bridgeScript = `(() => {
	const emit = (kind) => { try { window.` + bindingName + `(kind); } catch (e) {} };
	window.addEventListener('popstate', () => emit('popstate'));
	window.addEventListener('hashchange', () => emit('hashchange'));
	const style = document.createElement('style');
	style.textContent = '.` + highlightClass + ` { outline: 2px solid var(--SmartThemeQuoteColor, #e18a24); transition: outline 0.3s; }';
	document.addEventListener('DOMContentLoaded', () => document.head.appendChild(style));
	const hook = () => {
		if (typeof SillyTavern === 'undefined' || !SillyTavern.getContext) {
			setTimeout(hook, 100);
			return;
		}
		const ctx = SillyTavern.getContext();
		const types = ctx.eventTypes || ctx.event_types;
		ctx.eventSource.on(types.APP_READY, () => emit('ready'));
		ctx.eventSource.on(types.CHAT_CHANGED, () => emit('changed'));
	};
	hook();
})();`

// contextCall wraps body so it runs against the application context. The
// result is an envelope: {ready:false} until the application has loaded,
// {ready:true, value:...} afterwards. body is an expression that may use c
// and may be a promise.
func contextCall(body string) string {
	return `(async () => {
	if (typeof SillyTavern === 'undefined' || !SillyTavern.getContext) return { ready: false };
	const c = SillyTavern.getContext();
	const value = await (` + body + `);
	return { ready: true, value: value === undefined ? null : value };
})()`
}

type envelope struct {
	Ready bool            `json:"ready"`
	Value json.RawMessage `json:"value"`
}

// call renders fn(args...) with each argument as a JSON literal.
func call(fn string, args ...any) string {
	parts := make([]string, len(args))
	for i, arg := range args {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(arg); err != nil {
			// Only strings, numbers and bools are passed in.
			panic(fmt.Sprintf("chrome: encode script argument: %v", err))
		}
		parts[i] = strings.TrimSuffix(buf.String(), "\n")
	}
	return fn + "(" + strings.Join(parts, ", ") + ")"
}

// messageSelector addresses a rendered message by its index in the chat.
func messageSelector(messageID int) string {
	return fmt.Sprintf(`#chat .mes[mesid="%d"]`, messageID)
}

const activeEntityScript = `(() => {
	if (c.groupId) {
		const g = (c.groups || []).find(x => x.id === c.groupId);
		if (!g) return { active: false };
		return { active: true, entity: { kind: 'group', id: String(g.id), activeChatFile: g.chat_id || '', displayName: g.name || '' } };
	}
	const ch = c.characterId !== undefined && c.characterId !== null ? c.characters[c.characterId] : undefined;
	if (!ch) return { active: false };
	return { active: true, entity: { kind: 'character', id: String(c.characterId), avatar: ch.avatar, activeChatFile: ch.chat || '', displayName: ch.name || '' } };
})()`

const listCharactersScript = `(c.characters || []).map((ch, i) => ({ id: String(i), avatar: ch.avatar, name: ch.name || '' }))`

const listGroupsScript = `(c.groups || []).map(g => ({ id: String(g.id), name: g.name || '', activeChatFile: g.chat_id || '' }))`

const locationScript = `({ origin: location.origin, pathname: location.pathname, search: location.search, hash: location.hash })`

const clipboardScript = `(async (text) => {
	try {
		await navigator.clipboard.writeText(text);
	} catch (e) {
		const area = document.createElement('textarea');
		area.value = text;
		document.body.appendChild(area);
		area.select();
		document.execCommand('copy');
		document.body.removeChild(area);
	}
	return true;
})`

const toastScript = `((level, message, title) => {
	if (typeof toastr === 'undefined') return false;
	toastr[level](message, title);
	return true;
})`
