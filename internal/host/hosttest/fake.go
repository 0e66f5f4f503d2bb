// Package hosttest provides an in-memory host application for tests.
package hosttest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"chatnav/internal/host"
)

var ErrRejected = errors.New("rejected by host")

// Call records one mutating request made against the fake.
type Call struct {
	Method string
	Args   []string
}

// Host is a scriptable host.Host. Characters are addressed by id; selecting a
// character clears the active group and vice versa.
type Host struct {
	mu sync.Mutex

	Characters []host.Character
	Groups     []host.Group

	activeCharacter string
	activeGroup     string
	chatFiles       map[string]string

	// Fail* make the matching call return ErrRejected.
	FailSelect    bool
	FailOpen      bool
	FailOpenGroup bool
	FailClose     bool

	// OnOpen runs after a successful open, e.g. to emit state-changed events.
	OnOpen func()

	calls []Call
}

func New() *Host {
	return &Host{chatFiles: make(map[string]string)}
}

// AddCharacter registers a character and returns its id.
func (h *Host) AddCharacter(avatar, name, chatFile string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := strconv.Itoa(len(h.Characters))
	h.Characters = append(h.Characters, host.Character{ID: id, Avatar: avatar, Name: name})
	h.chatFiles[id] = chatFile
	return id
}

func (h *Host) AddGroup(id, name, chatFile string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Groups = append(h.Groups, host.Group{ID: id, Name: name, ActiveChatFile: chatFile})
}

// Activate makes a character active with the given chat, as if the user
// clicked it in the application.
func (h *Host) Activate(characterID, chatFile string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeGroup = ""
	h.activeCharacter = characterID
	h.chatFiles[characterID] = chatFile
}

func (h *Host) ActivateGroup(groupID, chatFile string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeCharacter = ""
	h.activeGroup = groupID
	h.setGroupChatLocked(groupID, chatFile)
}

// Deactivate leaves the application with no active chat.
func (h *Host) Deactivate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeCharacter = ""
	h.activeGroup = ""
}

func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// CallCount counts recorded calls to method.
func (h *Host) CallCount(method string) int {
	n := 0
	for _, c := range h.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (h *Host) CurrentActiveEntity(context.Context) (host.Entity, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.activeGroup != "" {
		for _, g := range h.Groups {
			if g.ID == h.activeGroup {
				return host.Entity{
					Kind:           host.EntityGroup,
					ID:             g.ID,
					ActiveChatFile: g.ActiveChatFile,
					DisplayName:    g.Name,
				}, true, nil
			}
		}
		return host.Entity{}, false, nil
	}
	if h.activeCharacter != "" {
		for _, c := range h.Characters {
			if c.ID == h.activeCharacter {
				return host.Entity{
					Kind:           host.EntityCharacter,
					ID:             c.ID,
					Avatar:         c.Avatar,
					ActiveChatFile: h.chatFiles[c.ID],
					DisplayName:    c.Name,
				}, true, nil
			}
		}
	}
	return host.Entity{}, false, nil
}

func (h *Host) ListCharacters(context.Context) ([]host.Character, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Character(nil), h.Characters...), nil
}

func (h *Host) ListGroups(context.Context) ([]host.Group, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Group(nil), h.Groups...), nil
}

func (h *Host) SelectCharacter(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Method: "SelectCharacter", Args: []string{id}})
	if h.FailSelect {
		return ErrRejected
	}
	h.activeGroup = ""
	h.activeCharacter = id
	return nil
}

func (h *Host) OpenCharacterChat(_ context.Context, file string) error {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Method: "OpenCharacterChat", Args: []string{file}})
	if h.FailOpen || h.activeCharacter == "" {
		h.mu.Unlock()
		return ErrRejected
	}
	h.chatFiles[h.activeCharacter] = file
	onOpen := h.OnOpen
	h.mu.Unlock()

	if onOpen != nil {
		onOpen()
	}
	return nil
}

func (h *Host) OpenGroupChat(_ context.Context, groupID, file string) error {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Method: "OpenGroupChat", Args: []string{groupID, file}})
	if h.FailOpenGroup {
		h.mu.Unlock()
		return ErrRejected
	}
	h.activeCharacter = ""
	h.activeGroup = groupID
	h.setGroupChatLocked(groupID, file)
	onOpen := h.OnOpen
	h.mu.Unlock()

	if onOpen != nil {
		onOpen()
	}
	return nil
}

func (h *Host) CloseActiveChat(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Method: "CloseActiveChat"})
	if h.FailClose {
		return ErrRejected
	}
	h.activeCharacter = ""
	h.activeGroup = ""
	return nil
}

func (h *Host) setGroupChatLocked(groupID, file string) {
	for i := range h.Groups {
		if h.Groups[i].ID == groupID {
			h.Groups[i].ActiveChatFile = file
		}
	}
}

// Events is a manually driven host.Events.
type Events struct {
	ch chan host.Event
}

func NewEvents() *Events {
	return &Events{ch: make(chan host.Event, 64)}
}

func (e *Events) Events() <-chan host.Event { return e.ch }

func (e *Events) Emit(kind host.EventKind) {
	e.ch <- host.Event{Kind: kind}
}

func (e *Events) Close() { close(e.ch) }
