package signal

import (
	"sync"

	"github.com/telemeet/sfu-coordinator/internal/jsonrpc"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

// ConnManager tracks which signaling connection belongs to which room
// and fans coordinator notifications out to room peers. It only knows
// connections of this process; the registry is the source of truth for
// membership.
type ConnManager struct {
	room2conns map[string]map[string]jsonrpc.Conn[sessionContext] // roomId -> connId -> conn
	conn2room  map[string]string                                  // connId -> roomId
	connsMux   sync.RWMutex
	logger     *log.Logger
}

func NewConnManager(logger *log.Logger) *ConnManager {
	return &ConnManager{
		room2conns: make(map[string]map[string]jsonrpc.Conn[sessionContext]),
		conn2room:  make(map[string]string),
		logger:     logger.Module("ConnMgr"),
	}
}

func (m *ConnManager) AddConn(connID, roomID string, conn jsonrpc.Conn[sessionContext]) {
	m.connsMux.Lock()
	defer m.connsMux.Unlock()

	m.conn2room[connID] = roomID

	room, ok := m.room2conns[roomID]
	if !ok {
		room = make(map[string]jsonrpc.Conn[sessionContext])
		m.room2conns[roomID] = room
	}
	room[connID] = conn

	m.logger.Debug("conn joined room",
		log.String("connId", connID),
		log.String("roomId", roomID),
	)
}

func (m *ConnManager) RemoveConn(connID string) {
	m.connsMux.Lock()
	defer m.connsMux.Unlock()

	roomID, ok := m.conn2room[connID]
	if !ok {
		return
	}
	if room, ok := m.room2conns[roomID]; ok {
		delete(room, connID)
		if len(room) == 0 {
			delete(m.room2conns, roomID)
		}
	}
	delete(m.conn2room, connID)

	m.logger.Debug("conn removed from room",
		log.String("connId", connID),
		log.String("roomId", roomID),
	)
}

// roomConns snapshots the connections of a room, minus the excluded one.
func (m *ConnManager) roomConns(roomID, exceptConnID string) []jsonrpc.Conn[sessionContext] {
	m.connsMux.RLock()
	defer m.connsMux.RUnlock()

	room := m.room2conns[roomID]
	if room == nil {
		return nil
	}
	conns := make([]jsonrpc.Conn[sessionContext], 0, len(room))
	for connID, conn := range room {
		if connID == exceptConnID {
			continue
		}
		conns = append(conns, conn)
	}
	return conns
}

func (m *ConnManager) conn(connID string) (jsonrpc.Conn[sessionContext], bool) {
	m.connsMux.RLock()
	defer m.connsMux.RUnlock()

	roomID, ok := m.conn2room[connID]
	if !ok {
		return nil, false
	}
	conn, ok := m.room2conns[roomID][connID]
	return conn, ok
}

// NotifyRoom sends a notification to every room peer except the sender.
func (m *ConnManager) NotifyRoom(roomID, exceptConnID, method string, params any) {
	for _, conn := range m.roomConns(roomID, exceptConnID) {
		m.notify(conn, method, params)
	}
}

// NotifyConn sends a notification to one connection; unknown targets are
// dropped silently.
func (m *ConnManager) NotifyConn(connID, method string, params any) {
	conn, ok := m.conn(connID)
	if !ok {
		m.logger.Debug("dropping notification for unknown conn",
			log.String("connId", connID),
			log.String("method", method),
		)
		return
	}
	m.notify(conn, method, params)
}

// AnnounceToRoom routes a producer announcement through each peer's
// buffer gate: peers with a ready recv transport get it immediately,
// the rest get it in their existing-producers flush.
func (m *ConnManager) AnnounceToRoom(roomID, exceptConnID string, note producerNote) {
	for _, conn := range m.roomConns(roomID, exceptConnID) {
		sctx := conn.Context().Get()
		if sctx == nil {
			continue
		}
		part := sctx.currentParticipant()
		if part == nil {
			continue
		}
		if part.enqueueProducer(note) {
			m.notify(conn, noteNewProducer, note)
		}
	}
}

// sameRoom reports whether both connections are currently in one room.
func (m *ConnManager) sameRoom(connID, otherConnID string) bool {
	m.connsMux.RLock()
	defer m.connsMux.RUnlock()

	roomID, ok := m.conn2room[connID]
	if !ok {
		return false
	}
	otherRoomID, ok := m.conn2room[otherConnID]
	return ok && roomID == otherRoomID
}

func (m *ConnManager) notify(conn jsonrpc.Conn[sessionContext], method string, params any) {
	sctx := conn.Context().Get()
	if sctx == nil {
		return
	}
	if err := conn.Notify(sctx.reqCtx, method, params); err != nil {
		notificationsFailed.Add(sctx.reqCtx, 1)
		m.logger.Warn("failed to notify conn",
			log.String("connId", sctx.connID),
			log.String("method", method),
			log.Error(err),
		)
		return
	}
	notificationsSent.Add(sctx.reqCtx, 1)
}
