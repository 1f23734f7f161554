package signal

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/time/rate"

	"github.com/telemeet/sfu-coordinator/coordinator/registry"
	enginemocks "github.com/telemeet/sfu-coordinator/engine/mocks"
	"github.com/telemeet/sfu-coordinator/internal/jsonrpc"
	"github.com/telemeet/sfu-coordinator/internal/jwt"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

type WSHookSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	logger    *log.Logger
	engineAPI *enginemocks.MockAPI
	jwtAuth   jwt.Auth
	server    *Server
	hook      *WSHook
}

func TestWSHookSuite(t *testing.T) {
	suite.Run(t, new(WSHookSuite))
}

func (s *WSHookSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.logger = log.NewNop()
	s.jwtAuth = jwt.NewAuth("test-secret")

	s.engineAPI = enginemocks.NewMockAPI(s.ctrl)
	reg := registry.New(s.engineAPI, json.RawMessage(`{}`), nil, s.logger)
	s.server = NewServer(
		jsonrpc.NewHandler[sessionContext](s.logger),
		reg,
		NewConnManager(s.logger),
		s.logger,
	)

	s.hook = NewWSHook(NewConnGuard(rate.Limit(1), 10), s.jwtAuth, s.logger)
	s.hook.BindServer(s.server)
}

func (s *WSHookSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *WSHookSuite) TestOnVerify_QueryToken() {
	token, err := s.jwtAuth.Sign("alice", "room-1")
	s.Require().NoError(err)

	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	sctx, passed, err := s.hook.OnVerify(req)
	s.Require().NoError(err)
	s.Require().True(passed)
	s.Equal("alice", sctx.userID)
	s.Equal("room-1", sctx.roomID)
}

func (s *WSHookSuite) TestOnVerify_BearerHeader() {
	token, err := s.jwtAuth.Sign("bob", "room-2")
	s.Require().NoError(err)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	sctx, passed, err := s.hook.OnVerify(req)
	s.Require().NoError(err)
	s.Require().True(passed)
	s.Equal("bob", sctx.userID)
	s.Equal("room-2", sctx.roomID)
}

func (s *WSHookSuite) TestOnVerify_MissingToken() {
	req := httptest.NewRequest("GET", "/ws", nil)

	sctx, passed, err := s.hook.OnVerify(req)
	s.NoError(err)
	s.False(passed)
	s.Nil(sctx)
}

func (s *WSHookSuite) TestOnVerify_BadToken() {
	req := httptest.NewRequest("GET", "/ws?token=not-a-jwt", nil)

	sctx, passed, err := s.hook.OnVerify(req)
	s.NoError(err)
	s.False(passed)
	s.Nil(sctx)
}

func (s *WSHookSuite) TestOnVerify_WrongSecret() {
	other := jwt.NewAuth("different-secret")
	token, err := other.Sign("mallory", "room-1")
	s.Require().NoError(err)

	req := httptest.NewRequest("GET", "/ws?token="+token, nil)
	_, passed, err := s.hook.OnVerify(req)
	s.NoError(err)
	s.False(passed)
}

func (s *WSHookSuite) TestOnConnect_AssignsConnID() {
	sctx := &sessionContext{userID: "alice", roomID: "room-1", reqCtx: context.Background()}
	peer := &mockPeer{}
	mctx := &mockMethodCtx{sctx: sctx, peer: peer}
	peer.mctx = mctx

	s.hook.OnConnect(mctx)
	s.NotEmpty(sctx.connID)
	s.False(peer.isClosed())
}

func (s *WSHookSuite) TestOnConnect_ThrottlesReconnectStorm() {
	s.hook = NewWSHook(NewConnGuard(rate.Limit(1), 1), s.jwtAuth, s.logger)
	s.hook.BindServer(s.server)

	var closedCount int
	for i := 0; i < 5; i++ {
		sctx := &sessionContext{userID: "flappy", roomID: "room-1", reqCtx: context.Background()}
		peer := &mockPeer{}
		peer.mctx = &mockMethodCtx{sctx: sctx, peer: peer}

		s.hook.OnConnect(peer.mctx)
		if peer.isClosed() {
			closedCount++
		}
	}
	s.GreaterOrEqual(closedCount, 3)
}

func (s *WSHookSuite) TestOnDisconnect_TearsDownJoinedSession() {
	router := enginemocks.NewMockRouter(s.ctrl)
	router.EXPECT().ID().Return("router-1").AnyTimes()
	router.EXPECT().RtpCapabilities().Return(json.RawMessage(`{}`)).AnyTimes()
	s.engineAPI.EXPECT().CreateRouter(gomock.Any(), gomock.Any()).Return(router, nil)
	router.EXPECT().Close(gomock.Any()).Return(nil)

	sctx := &sessionContext{userID: "alice", roomID: "room-1", reqCtx: context.Background()}
	peer := &mockPeer{}
	mctx := &mockMethodCtx{sctx: sctx, peer: peer}
	peer.mctx = mctx

	s.hook.OnConnect(mctx)

	params := json.RawMessage(`{"displayName":"Alice"}`)
	_, err := s.server.handleJoinRoom(mctx, &params)
	s.Require().NoError(err)

	s.hook.OnDisconnect(mctx, 1000)

	_, ok := s.server.registry.Get("room-1")
	s.False(ok)
}

func (s *WSHookSuite) TestOnDisconnect_NeverJoinedIsNoop() {
	sctx := &sessionContext{userID: "alice", roomID: "room-1", reqCtx: context.Background()}
	peer := &mockPeer{}
	mctx := &mockMethodCtx{sctx: sctx, peer: peer}
	peer.mctx = mctx

	s.hook.OnConnect(mctx)
	s.hook.OnDisconnect(mctx, 1001)
	s.hook.OnDisconnect(mctx, 1001)
}
