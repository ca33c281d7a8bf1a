package group

import (
	"log/slog"
	"sync"

	"exanodes.dev/vrt/uuid"
)

// Registry holds every group known to a node, keyed by UUID, and
// rejects a group whose name is already registered. Group UUIDs are not
// checked here, and zone-name uniqueness is checked by ZoneCreate on the
// owning group, outside the registry's lock.
type Registry struct {
	mu sync.Mutex

	log    *slog.Logger
	groups map[uuid.UUID]*Group
}

// NewRegistry builds an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:    log,
		groups: make(map[uuid.UUID]*Group),
	}
}

// Groups returns a snapshot slice of every registered group.
func (r *Registry) Groups() []*Group {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	return out
}

// ByUUID looks up a group by UUID.
func (r *Registry) ByUUID(u uuid.UUID) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.groups[u]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return g, nil
}

// ByName looks up a group by name.
func (r *Registry) ByName(name string) (*Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, g := range r.groups {
		if g.Name == name {
			return g, nil
		}
	}
	return nil, ErrGroupNotFound
}

// register adds a freshly-created group to the registry, rejecting a
// name collision with an already-registered group (UUIDs are assumed
// fresh from uuid.New and are not separately checked).
func (r *Registry) register(g *Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.groups {
		if existing.Name == g.Name {
			return ErrNameTaken
		}
	}

	r.groups[g.UUID] = g
	r.log.Info("group registered", "group", g.Name, "uuid", g.UUID.String())
	return nil
}

// unregister removes a group from the registry. No operation in this
// package calls it.
func (r *Registry) unregister(u uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.groups, u)
}
