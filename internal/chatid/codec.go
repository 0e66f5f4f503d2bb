package chatid

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names of the canonical encoding.
const (
	ParamNav      = "nav"
	ParamAvatar   = "avatar"
	ParamGroup    = "gid"
	ParamChat     = "cid"
	ParamMessage  = "msg"
	ParamShortURL = "chatlink"

	navCharacter = "char"
	navGroup     = "group"
)

// Source records which encoding an identity was decoded from.
type Source string

const (
	SourceNone      Source = ""
	SourceShortLink Source = "shortlink"
	SourceQuery     Source = "query"
	SourceFragment  Source = "fragment"
)

// ShortLinks resolves a short-link token to the identity it stands for.
// Implementations return ok=false for unknown, expired or unreadable tokens.
type ShortLinks interface {
	ResolveShortLink(ctx context.Context, token string) (Identity, bool, error)
}

// Encode renders the canonical query string (without the leading "?").
func Encode(id Identity) string {
	id = id.Normalize()

	var b strings.Builder
	switch id.Kind {
	case KindGroup:
		b.WriteString(ParamNav + "=" + navGroup)
		b.WriteString("&" + ParamGroup + "=" + encodeComponent(id.GroupID))
	default:
		b.WriteString(ParamNav + "=" + navCharacter)
		b.WriteString("&" + ParamAvatar + "=" + encodeComponent(id.AvatarID))
	}
	b.WriteString("&" + ParamChat + "=" + encodeComponent(id.ChatFile))
	if id.MessageID != nil {
		b.WriteString("&" + ParamMessage + "=" + strconv.Itoa(*id.MessageID))
	}
	return b.String()
}

// Decode parses a canonical query string. A leading "?" is accepted.
// Unrelated parameters are ignored, malformed ones included.
func Decode(query string) (Identity, bool) {
	return decodeValues(parseQuery(query))
}

// parseQuery keeps every well-formed pair of search. url.ParseQuery reports
// the first malformed pair but still returns the rest.
func parseQuery(search string) url.Values {
	values, _ := url.ParseQuery(strings.TrimPrefix(search, "?"))
	return values
}

func decodeValues(values url.Values) (Identity, bool) {
	chatFile := values.Get(ParamChat)
	if chatFile == "" {
		return Identity{}, false
	}

	var id Identity
	switch values.Get(ParamNav) {
	case navCharacter:
		avatar := values.Get(ParamAvatar)
		if avatar == "" {
			return Identity{}, false
		}
		id = Character(avatar, chatFile)
	case navGroup:
		groupID := values.Get(ParamGroup)
		if groupID == "" {
			return Identity{}, false
		}
		id = Group(groupID, chatFile)
	default:
		return Identity{}, false
	}

	if raw := values.Get(ParamMessage); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			id = id.WithMessage(n)
		}
	}
	return id, true
}

// DecodeLegacyFragment parses the read-only "#/char/<avatar>/<file>" and
// "#/group/<group>/<file>" formats.
func DecodeLegacyFragment(fragment string) (Identity, bool) {
	path := strings.TrimPrefix(fragment, "#")
	path = strings.TrimPrefix(path, "/")
	parts := strings.Split(path, "/")
	if len(parts) < 3 {
		return Identity{}, false
	}

	entity, err := url.PathUnescape(parts[1])
	if err != nil || entity == "" {
		return Identity{}, false
	}
	chatFile, err := url.PathUnescape(parts[2])
	if err != nil || chatFile == "" {
		return Identity{}, false
	}

	switch parts[0] {
	case navCharacter:
		return Character(entity, chatFile), true
	case navGroup:
		return Group(entity, chatFile), true
	}
	return Identity{}, false
}

// DecodeLocation resolves the identity named by a location's query and
// fragment. Precedence: short-link token, then canonical query, then legacy
// fragment. A token that cannot be resolved falls through to the next form;
// a lookup failure is returned alongside whatever the other forms yield.
func DecodeLocation(ctx context.Context, search, fragment string, links ShortLinks) (Identity, Source, error) {
	values := parseQuery(search)

	var lookupErr error
	if token := values.Get(ParamShortURL); token != "" && links != nil {
		id, ok, err := links.ResolveShortLink(ctx, token)
		switch {
		case err != nil:
			lookupErr = fmt.Errorf("resolve short link: %w", err)
		case ok:
			return id, SourceShortLink, nil
		}
	}

	if id, ok := decodeValues(values); ok {
		return id, SourceQuery, lookupErr
	}
	if id, ok := DecodeLegacyFragment(fragment); ok {
		return id, SourceFragment, lookupErr
	}
	return Identity{}, SourceNone, lookupErr
}

// MatchesLocation reports whether a location already carries the canonical
// encoding of id's chat. A message anchor in the location is tolerated.
func MatchesLocation(search, fragment string, id Identity) bool {
	if strings.TrimPrefix(fragment, "#") != "" {
		return false
	}
	values := parseQuery(search)
	if values.Has(ParamShortURL) {
		return false
	}
	current, ok := decodeValues(values)
	return ok && current.SameChat(id)
}

// ShortLinkQuery renders the query string for a short-link token.
func ShortLinkQuery(token string) string {
	return ParamShortURL + "=" + encodeComponent(token)
}

// encodeComponent escapes s the way encodeURIComponent does: spaces become
// %20, never "+".
func encodeComponent(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z',
			c >= 'A' && c <= 'Z',
			c >= '0' && c <= '9',
			c == '-', c == '_', c == '.', c == '~',
			c == '!', c == '*', c == '\'', c == '(', c == ')':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
