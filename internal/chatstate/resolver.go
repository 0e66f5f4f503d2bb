// Package chatstate reads the chat identity the host application currently shows.
package chatstate

import (
	"context"
	"fmt"

	"chatnav/internal/chatid"
	"chatnav/internal/host"
)

// State is the active chat together with the name shown in the title.
type State struct {
	Identity    chatid.Identity
	DisplayName string
}

// Resolver answers from the host on every call; host state can change
// between two calls in the same tick, so nothing is cached.
type Resolver struct {
	host host.Host
}

func NewResolver(h host.Host) *Resolver {
	return &Resolver{host: h}
}

// Current returns ok=false when no character or group chat is active.
func (r *Resolver) Current(ctx context.Context) (State, bool, error) {
	entity, ok, err := r.host.CurrentActiveEntity(ctx)
	if err != nil {
		return State{}, false, fmt.Errorf("read active entity: %w", err)
	}
	if !ok || entity.ActiveChatFile == "" {
		return State{}, false, nil
	}

	var id chatid.Identity
	switch entity.Kind {
	case host.EntityGroup:
		if entity.ID == "" {
			return State{}, false, nil
		}
		id = chatid.Group(entity.ID, entity.ActiveChatFile)
	case host.EntityCharacter:
		if entity.Avatar == "" {
			return State{}, false, nil
		}
		id = chatid.Character(entity.Avatar, entity.ActiveChatFile)
	default:
		return State{}, false, nil
	}
	return State{Identity: id, DisplayName: entity.DisplayName}, true, nil
}
