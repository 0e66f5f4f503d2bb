package chrome

import (
	"context"
	"encoding/json"
	"fmt"

	"chatnav/internal/host"
)

// Host talks to the application through SillyTavern.getContext().
type Host struct {
	s *Session
}

func (s *Session) Host() *Host {
	return &Host{s: s}
}

// invoke evaluates body against the application context and decodes the
// value into dest. It returns host.ErrNotReady before the application loads.
func (h *Host) invoke(ctx context.Context, body string, dest any) error {
	var env envelope
	if err := h.s.eval(ctx, contextCall(body), &env); err != nil {
		return err
	}
	if !env.Ready {
		return host.ErrNotReady
	}
	if dest == nil || len(env.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Value, dest); err != nil {
		return fmt.Errorf("decode page result: %w", err)
	}
	return nil
}

func (h *Host) CurrentActiveEntity(ctx context.Context) (host.Entity, bool, error) {
	var result struct {
		Active bool        `json:"active"`
		Entity host.Entity `json:"entity"`
	}
	if err := h.invoke(ctx, activeEntityScript, &result); err != nil {
		return host.Entity{}, false, err
	}
	if !result.Active {
		return host.Entity{}, false, nil
	}
	return result.Entity, true, nil
}

func (h *Host) ListCharacters(ctx context.Context) ([]host.Character, error) {
	var characters []host.Character
	if err := h.invoke(ctx, listCharactersScript, &characters); err != nil {
		return nil, err
	}
	return characters, nil
}

func (h *Host) ListGroups(ctx context.Context) ([]host.Group, error) {
	var groups []host.Group
	if err := h.invoke(ctx, listGroupsScript, &groups); err != nil {
		return nil, err
	}
	return groups, nil
}

func (h *Host) SelectCharacter(ctx context.Context, id string) error {
	return h.invoke(ctx, call("c.selectCharacterById", id), nil)
}

func (h *Host) OpenCharacterChat(ctx context.Context, file string) error {
	return h.invoke(ctx, call("c.openCharacterChat", file), nil)
}

func (h *Host) OpenGroupChat(ctx context.Context, groupID, file string) error {
	return h.invoke(ctx, call("c.openGroupChat", groupID, file), nil)
}

func (h *Host) CloseActiveChat(ctx context.Context) error {
	return h.invoke(ctx, "c.closeCurrentChat()", nil)
}
