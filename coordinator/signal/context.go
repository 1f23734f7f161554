package signal

import (
	"context"
	"sync"
)

// sessionContext is the per-connection state shared across the requests
// of one signaling connection. The read loop serializes requests, so
// most fields are only touched by the connection's own handlers; the
// participant pointer is also written by the disconnect teardown, which
// can race a join still in flight, so it sits behind the mutex together
// with the terminal flag.
type sessionContext struct {
	connID string
	userID string
	roomID string
	reqCtx context.Context

	mu         sync.Mutex
	terminated bool
	// nil until join-room succeeds, nil again after teardown
	participant *Participant
}

func (s *sessionContext) joined() bool {
	return s.currentParticipant() != nil
}

// currentParticipant snapshots the participant pointer; nil means the
// connection has not joined, or its teardown already ran.
func (s *sessionContext) currentParticipant() *Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.participant
}
