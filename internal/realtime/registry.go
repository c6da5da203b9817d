package realtime

import (
	"hash/fnv"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// CloseReasonSuperseded is passed to a channel displaced by a newer
// connection for the same identity.
const CloseReasonSuperseded = "superseded"

// Channel is one live delivery path to a connected user. Send must not
// block on network I/O; implementations queue and flush asynchronously.
type Channel interface {
	Send(ev Event) error
	Close(reason string) error
}

type identity struct {
	role models.Role
	id   string
}

const registryShards = 16

type shard struct {
	mu       sync.Mutex
	channels map[identity]Channel
}

// Registry maps (role, user id) identities to their single live channel.
// At most one channel per identity: a new registration supersedes the old
// one. Mutations and lookups for one identity are serialized by its shard;
// unrelated identities do not contend.
type Registry struct {
	shards [registryShards]shard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].channels = make(map[identity]Channel)
	}
	return r
}

func (r *Registry) shardFor(key identity) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.role))
	h.Write([]byte{0})
	h.Write([]byte(key.id))
	return &r.shards[h.Sum32()%registryShards]
}

// Register installs ch as the identity's channel, closing any previous one
// with a superseded reason.
func (r *Registry) Register(role models.Role, userID string, ch Channel) {
	key := identity{role: role, id: userID}
	s := r.shardFor(key)

	s.mu.Lock()
	old := s.channels[key]
	s.channels[key] = ch
	s.mu.Unlock()

	if old != nil && old != ch {
		_ = old.Close(CloseReasonSuperseded)
	}
}

// Unregister removes the mapping only if ch is still current, so a stale
// disconnect cannot evict a newer connection.
func (r *Registry) Unregister(role models.Role, userID string, ch Channel) {
	key := identity{role: role, id: userID}
	s := r.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[key] == ch {
		delete(s.channels, key)
	}
}

// SendTo delivers ev to the identity's channel if one is live. A missing
// recipient is not an error; the event is dropped and false returned so the
// caller can count the miss.
func (r *Registry) SendTo(role models.Role, userID string, ev Event) bool {
	key := identity{role: role, id: userID}
	s := r.shardFor(key)

	s.mu.Lock()
	ch := s.channels[key]
	s.mu.Unlock()

	if ch == nil {
		return false
	}
	return ch.Send(ev) == nil
}

// BroadcastTo fans ev out to each id. Partial delivery is expected; the
// return value counts actual deliveries.
func (r *Registry) BroadcastTo(role models.Role, ids []string, ev Event) int {
	delivered := 0
	for _, id := range ids {
		if r.SendTo(role, id, ev) {
			delivered++
		}
	}
	return delivered
}
