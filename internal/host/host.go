// Package host describes the capabilities of the chat application the
// navigator drives. The application owns its state; the navigator only reads
// it and asks for changes through this interface.
package host

import (
	"context"
	"errors"
)

// EntityKind says whether the active entity is a character or a group.
type EntityKind string

const (
	EntityCharacter EntityKind = "character"
	EntityGroup     EntityKind = "group"
)

// Entity is the character or group the application currently shows.
type Entity struct {
	Kind           EntityKind `json:"kind"`
	ID             string     `json:"id"`
	Avatar         string     `json:"avatar,omitempty"`
	ActiveChatFile string     `json:"activeChatFile"`
	DisplayName    string     `json:"displayName"`
}

type Character struct {
	ID     string `json:"id"`
	Avatar string `json:"avatar"`
	Name   string `json:"name"`
}

type Group struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ActiveChatFile string `json:"activeChatFile"`
}

var ErrNotReady = errors.New("host application not ready")

// Host is the capability set consumed by the navigator.
type Host interface {
	// CurrentActiveEntity reports ok=false when neither a character nor a
	// group is active.
	CurrentActiveEntity(ctx context.Context) (Entity, bool, error)
	ListCharacters(ctx context.Context) ([]Character, error)
	ListGroups(ctx context.Context) ([]Group, error)
	SelectCharacter(ctx context.Context, id string) error
	OpenCharacterChat(ctx context.Context, file string) error
	OpenGroupChat(ctx context.Context, groupID, file string) error
	CloseActiveChat(ctx context.Context) error
}

// EventKind enumerates the notifications delivered by the application page.
type EventKind string

const (
	EventReady        EventKind = "ready"
	EventStateChanged EventKind = "changed"
	EventPopState     EventKind = "popstate"
	EventHashChange   EventKind = "hashchange"
)

type Event struct {
	Kind EventKind
}

// Events is a stream of application and browser notifications.
type Events interface {
	Events() <-chan Event
}
