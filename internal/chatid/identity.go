// Package chatid defines the identity of a conversation and its URL encodings.
package chatid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the two identity shapes.
type Kind string

const (
	KindCharacter Kind = "character"
	KindGroup     Kind = "group"
)

const (
	chatFileSuffix = ".jsonl"
	avatarSuffix   = ".png"
)

var ErrInvalidIdentity = errors.New("invalid chat identity")

// Identity names a conversation (character+file or group+file) and optionally
// a message inside it. Only the field matching Kind is set.
type Identity struct {
	Kind      Kind   `json:"type"`
	AvatarID  string `json:"avatar,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	ChatFile  string `json:"chatId"`
	MessageID *int   `json:"messageId,omitempty"`
}

// Character returns a normalized character identity.
func Character(avatarID, chatFile string) Identity {
	return Identity{
		Kind:     KindCharacter,
		AvatarID: NormalizeAvatar(avatarID),
		ChatFile: NormalizeChatFile(chatFile),
	}
}

// Group returns a normalized group identity.
func Group(groupID, chatFile string) Identity {
	return Identity{
		Kind:     KindGroup,
		GroupID:  groupID,
		ChatFile: NormalizeChatFile(chatFile),
	}
}

// WithMessage returns a copy anchored at the given message index.
func (id Identity) WithMessage(messageID int) Identity {
	m := messageID
	id.MessageID = &m
	return id
}

// WithoutMessage returns a copy with no message anchor.
func (id Identity) WithoutMessage() Identity {
	id.MessageID = nil
	return id
}

// Normalize strips storage suffixes from the chat file and avatar.
func (id Identity) Normalize() Identity {
	id.ChatFile = NormalizeChatFile(id.ChatFile)
	if id.Kind == KindCharacter {
		id.AvatarID = NormalizeAvatar(id.AvatarID)
	}
	return id
}

// EntityID returns the avatar id for characters and the group id for groups.
func (id Identity) EntityID() string {
	if id.Kind == KindGroup {
		return id.GroupID
	}
	return id.AvatarID
}

func (id Identity) Validate() error {
	switch id.Kind {
	case KindCharacter:
		if id.AvatarID == "" || id.GroupID != "" {
			return fmt.Errorf("%w: character needs an avatar and no group", ErrInvalidIdentity)
		}
	case KindGroup:
		if id.GroupID == "" || id.AvatarID != "" {
			return fmt.Errorf("%w: group needs a group id and no avatar", ErrInvalidIdentity)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidIdentity, id.Kind)
	}
	if id.ChatFile == "" {
		return fmt.Errorf("%w: missing chat file", ErrInvalidIdentity)
	}
	if id.MessageID != nil && *id.MessageID < 0 {
		return fmt.Errorf("%w: negative message id", ErrInvalidIdentity)
	}
	return nil
}

// SameChat reports whether both identities name the same conversation,
// ignoring the message anchor and storage suffixes.
func (id Identity) SameChat(other Identity) bool {
	a, b := id.Normalize(), other.Normalize()
	return a.Kind == b.Kind && a.EntityID() == b.EntityID() && a.ChatFile == b.ChatFile
}

// Equal reports whether both identities name the same conversation and anchor.
func (id Identity) Equal(other Identity) bool {
	if !id.SameChat(other) {
		return false
	}
	if id.MessageID == nil || other.MessageID == nil {
		return id.MessageID == nil && other.MessageID == nil
	}
	return *id.MessageID == *other.MessageID
}

func (id Identity) String() string {
	s := fmt.Sprintf("%s/%s/%s", id.Kind, id.EntityID(), id.ChatFile)
	if id.MessageID != nil {
		s += fmt.Sprintf("#%d", *id.MessageID)
	}
	return s
}

// UnmarshalJSON normalizes and validates the decoded identity.
func (id *Identity) UnmarshalJSON(data []byte) error {
	type plain Identity
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded := Identity(raw).Normalize()
	if err := decoded.Validate(); err != nil {
		return err
	}
	*id = decoded
	return nil
}

func NormalizeChatFile(file string) string {
	return strings.TrimSuffix(file, chatFileSuffix)
}

func NormalizeAvatar(avatar string) string {
	return strings.TrimSuffix(avatar, avatarSuffix)
}

// Title is the document title shown for a chat.
func Title(displayName, defaultTitle string) string {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return defaultTitle
	}
	if defaultTitle == "" {
		return displayName
	}
	return displayName + " - " + defaultTitle
}
