package registry

import (
	"sync"
	"time"

	"github.com/telemeet/sfu-coordinator/engine"
)

// Member is the registry's view of a joined participant.
type Member interface {
	ConnID() string
	UserID() string
	DisplayName() string
}

// MemberInfo is a point-in-time snapshot of a member.
type MemberInfo struct {
	ConnID      string `json:"connId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Room is one active conference room bound to one engine router.
// A room only exists while it has members; the last leave disposes it.
type Room struct {
	id        string
	router    engine.Router
	createdAt time.Time

	mu       sync.Mutex
	disposed bool
	members  map[string]Member
}

func newRoom(id string, router engine.Router, createdAt time.Time) *Room {
	return &Room{
		id:        id,
		router:    router,
		createdAt: createdAt,
		members:   make(map[string]Member),
	}
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Router() engine.Router {
	return r.router
}

func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Members returns a snapshot of the current membership.
func (r *Room) Members() []MemberInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]MemberInfo, 0, len(r.members))
	for _, m := range r.members {
		infos = append(infos, MemberInfo{
			ConnID:      m.ConnID(),
			UserID:      m.UserID(),
			DisplayName: m.DisplayName(),
		})
	}
	return infos
}

// admit adds the member unless the room is already disposed.
func (r *Room) admit(m Member) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.disposed {
		return false
	}
	r.members[m.ConnID()] = m
	return true
}

// remove drops the member and reports how many remain.
func (r *Room) remove(connID string) (remaining int, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, found = r.members[connID]
	delete(r.members, connID)
	return len(r.members), found
}

func (r *Room) markDisposed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disposed = true
}
