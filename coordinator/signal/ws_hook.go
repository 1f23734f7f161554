package signal

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/telemeet/sfu-coordinator/internal/errors"
	"github.com/telemeet/sfu-coordinator/internal/jsonrpc"
	wsrpc "github.com/telemeet/sfu-coordinator/internal/jsonrpc/websocket"
	"github.com/telemeet/sfu-coordinator/internal/jwt"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

// WSHook guards the websocket boundary: token verification before the
// upgrade, connect throttling after it, and the teardown cascade on
// disconnect.
type WSHook struct {
	server    *Server
	connGuard ConnectionGuard
	jwtAuth   jwt.Auth
	logger    *log.Logger
}

var _ wsrpc.ConnectionHooks[sessionContext] = (*WSHook)(nil)

func NewWSHook(
	connGuard ConnectionGuard,
	jwtAuth jwt.Auth,
	logger *log.Logger,
) *WSHook {
	return &WSHook{
		connGuard: connGuard,
		jwtAuth:   jwtAuth,
		logger:    logger,
	}
}

// BindServer wires in the signal server after construction; the hook and
// the server reference each other through the RPC handler.
func (h *WSHook) BindServer(server *Server) {
	h.server = server
}

// NewWSServer builds the websocket RPC server bound to this package's
// session state.
func NewWSServer(hook *WSHook, allowedOrigins []string, logger *log.Logger) *wsrpc.Server[sessionContext] {
	return wsrpc.NewServer[sessionContext](hook, allowedOrigins, logger)
}

func (h *WSHook) OnVerify(r *http.Request) (*sessionContext, bool, error) {
	// Extract JWT from query parameter or header
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if token == "" {
		authFailures.Add(r.Context(), 1)
		return nil, false, nil
	}

	payload, err := h.jwtAuth.Verify(token)
	if err != nil {
		if errors.Is(err, jwt.ErrInvalidToken) || errors.Is(err, jwt.ErrNoToken) {
			authFailures.Add(r.Context(), 1)
			return nil, false, nil
		}
		return nil, false, err
	}

	sctx := &sessionContext{
		userID: payload.UserID,
		roomID: payload.RoomID,
		reqCtx: r.Context(),
	}
	return sctx, true, nil
}

func (h *WSHook) OnConnect(mctx jsonrpc.MethodContext[sessionContext]) {
	sctx := mctx.Get()
	sctx.connID = uuid.New().String()

	wsConnectionsActive.Add(sctx.reqCtx, 1)
	wsConnectionsTotal.Add(sctx.reqCtx, 1)

	if !h.connGuard.Allow(sctx.userID) {
		h.logger.Warn("Connection rejected, user reconnecting too fast",
			log.String("connId", sctx.connID),
			log.String("userId", sctx.userID),
		)
		mctx.Peer().Close()
		return
	}

	h.logger.Info("Client connected",
		log.String("connId", sctx.connID),
		log.String("userId", sctx.userID),
		log.String("roomId", sctx.roomID),
	)
}

func (h *WSHook) OnDisconnect(mctx jsonrpc.MethodContext[sessionContext], closeCode int) {
	sctx := mctx.Get()

	wsConnectionsActive.Add(sctx.reqCtx, -1)
	h.logger.Info("Client disconnected",
		log.String("connId", sctx.connID),
		log.Int("closeCode", closeCode),
	)

	// runs the full room/engine cleanup; a connection that never joined
	// tears down to a no-op
	if h.server != nil {
		h.server.Teardown(sctx)
	}
}
