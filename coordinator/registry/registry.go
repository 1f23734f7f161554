package registry

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/telemeet/sfu-coordinator/engine"
	"github.com/telemeet/sfu-coordinator/internal/errors"
	"github.com/telemeet/sfu-coordinator/internal/log"
	"github.com/telemeet/sfu-coordinator/internal/retry"
	isync "github.com/telemeet/sfu-coordinator/internal/sync"
)

const (
	// ErrRoomNotFound: the room has no members and therefore does not exist.
	ErrRoomNotFound errors.Code = "room not found"
	// ErrRouterCreateFailed: the engine could not allocate a router.
	ErrRouterCreateFailed errors.Code = "router create failed"
)

// Registry owns the room set. Rooms are created lazily on the first join
// and disposed when the last member leaves; there is no explicit
// create-room or close-room operation.
type Registry struct {
	engineAPI   engine.API
	codecConfig json.RawMessage
	rooms       *isync.Map[string, *Room]
	sfCreate    singleflight.Group
	retry       retry.Retry
	logger      *log.Logger
}

func New(engineAPI engine.API, codecConfig json.RawMessage, rt retry.Retry, logger *log.Logger) *Registry {
	if logger == nil {
		panic("logger is required")
	}
	return &Registry{
		engineAPI:   engineAPI,
		codecConfig: codecConfig,
		rooms:       isync.NewMap[string, *Room](),
		retry:       rt,
		logger:      logger.Module("Registry"),
	}
}

// Join puts the member into the room, creating the room (and its engine
// router) if this is the first member. Concurrent first joins are deduped
// so the room gets exactly one router.
func (r *Registry) Join(ctx context.Context, roomID string, member Member) (*Room, error) {
	for {
		var room *Room
		r.rooms.WithLock(func(view isync.View[string, *Room]) {
			if rm, ok := view.Get(roomID); ok && rm.admit(member) {
				room = rm
			}
		})
		if room != nil {
			joinsTotal.Add(ctx, 1)
			return room, nil
		}

		if err := r.createRoom(ctx, roomID, member); err != nil {
			return nil, err
		}
		// createRoom admits the creator before publishing the room;
		// concurrent sharers of the singleflight result loop back and
		// admit through the fast path. Re-admission is a no-op.
	}
}

// createRoom allocates the router and inserts the room with its first
// member in one registry critical section, so the registry never holds
// an empty room.
func (r *Registry) createRoom(ctx context.Context, roomID string, member Member) error {
	_, err, _ := r.sfCreate.Do(roomID, func() (any, error) {
		if _, ok := r.rooms.Load(roomID); ok {
			return nil, nil
		}

		var router engine.Router
		createOp := func() error {
			var err error
			router, err = r.engineAPI.CreateRouter(ctx, r.codecConfig)
			return err
		}
		var err error
		if r.retry != nil {
			err = r.retry.Do(ctx, createOp)
		} else {
			err = createOp()
		}
		if err != nil {
			return nil, errors.Wrapf(ErrRouterCreateFailed, err, "room %s", roomID)
		}

		room := newRoom(roomID, router, time.Now())
		room.admit(member)
		r.rooms.Store(roomID, room)

		roomsCreated.Add(ctx, 1)
		roomsActive.Add(ctx, 1)
		r.logger.Info("room created",
			log.String("roomId", roomID),
			log.String("routerId", router.ID()),
		)
		return nil, nil
	})
	return err
}

// Leave removes the member from the room. When the last member leaves,
// the room is deleted and its router closed as part of the same removal;
// the emptiness check never observes a stale membership.
func (r *Registry) Leave(ctx context.Context, roomID, connID string) {
	var disposed *Room
	r.rooms.WithLock(func(view isync.View[string, *Room]) {
		room, ok := view.Get(roomID)
		if !ok {
			return
		}
		remaining, found := room.remove(connID)
		if !found {
			return
		}
		if remaining == 0 {
			room.markDisposed()
			view.Delete(roomID)
			disposed = room
		}
	})

	if disposed == nil {
		return
	}

	roomsDisposed.Add(ctx, 1)
	roomsActive.Add(ctx, -1)
	if err := disposed.router.Close(ctx); err != nil {
		r.logger.Warn("failed to close router for disposed room",
			log.String("roomId", roomID),
			log.Error(err),
		)
	}
	r.logger.Info("room disposed", log.String("roomId", roomID))
}

// Get returns the room if it exists.
func (r *Registry) Get(roomID string) (*Room, bool) {
	return r.rooms.Load(roomID)
}

// RoomInfo is an admin-surface snapshot of one room.
type RoomInfo struct {
	ID           string       `json:"id"`
	Participants int          `json:"participants"`
	CreatedAt    time.Time    `json:"createdAt"`
	Members      []MemberInfo `json:"members,omitempty"`
}

// Rooms snapshots all rooms, without member details.
func (r *Registry) Rooms() []RoomInfo {
	infos := make([]RoomInfo, 0, r.rooms.Len())
	r.rooms.Range(func(_ string, room *Room) bool {
		infos = append(infos, RoomInfo{
			ID:           room.ID(),
			Participants: room.Size(),
			CreatedAt:    room.CreatedAt(),
		})
		return true
	})
	return infos
}

// Describe snapshots one room with its member list.
func (r *Registry) Describe(roomID string) (RoomInfo, error) {
	room, ok := r.rooms.Load(roomID)
	if !ok {
		return RoomInfo{}, errors.Newf(ErrRoomNotFound, "room %s", roomID)
	}
	return RoomInfo{
		ID:           room.ID(),
		Participants: room.Size(),
		CreatedAt:    room.CreatedAt(),
		Members:      room.Members(),
	}, nil
}

// Stats aggregates registry-wide counts.
type Stats struct {
	Rooms        int `json:"rooms"`
	Participants int `json:"participants"`
}

func (r *Registry) Stats() Stats {
	stats := Stats{}
	r.rooms.Range(func(_ string, room *Room) bool {
		stats.Rooms++
		stats.Participants += room.Size()
		return true
	})
	return stats
}
