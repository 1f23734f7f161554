package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/telemeet/sfu-coordinator/coordinator/registry"
	"github.com/telemeet/sfu-coordinator/engine"
	enginemocks "github.com/telemeet/sfu-coordinator/engine/mocks"
	interrors "github.com/telemeet/sfu-coordinator/internal/errors"
	"github.com/telemeet/sfu-coordinator/internal/jsonrpc"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

type mockMethodCtx struct {
	sctx *sessionContext
	peer jsonrpc.Conn[sessionContext]
}

func (m *mockMethodCtx) Get() *sessionContext {
	return m.sctx
}

func (m *mockMethodCtx) Set(sctx *sessionContext) {
	m.sctx = sctx
}

func (m *mockMethodCtx) Peer() jsonrpc.Conn[sessionContext] {
	return m.peer
}

type notified struct {
	method string
	params any
}

type mockPeer struct {
	mu       sync.Mutex
	notifies []notified
	closed   bool
	mctx     jsonrpc.MethodContext[sessionContext]
}

func (m *mockPeer) Open(context.Context) error {
	return nil
}

func (m *mockPeer) Call(context.Context, string, interface{}, interface{}) error {
	return nil
}

func (m *mockPeer) Notify(_ context.Context, method string, params interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifies = append(m.notifies, notified{method: method, params: params})
	return nil
}

func (m *mockPeer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockPeer) Context() jsonrpc.MethodContext[sessionContext] {
	return m.mctx
}

func (m *mockPeer) byMethod(method string) []notified {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []notified
	for _, n := range m.notifies {
		if n.method == method {
			out = append(out, n)
		}
	}
	return out
}

func (m *mockPeer) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type testClient struct {
	sctx *sessionContext
	peer *mockPeer
	mctx *mockMethodCtx
}

type SignalServerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	engineAPI *enginemocks.MockAPI
	router    *enginemocks.MockRouter
	registry  *registry.Registry
	connMgr   *ConnManager
	server    *Server
	logger    *log.Logger
}

func TestSignalServerSuite(t *testing.T) {
	suite.Run(t, new(SignalServerSuite))
}

func (s *SignalServerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.logger = log.NewNop()

	s.engineAPI = enginemocks.NewMockAPI(s.ctrl)
	s.router = enginemocks.NewMockRouter(s.ctrl)
	s.router.EXPECT().ID().Return("router-1").AnyTimes()
	s.router.EXPECT().RtpCapabilities().
		Return(json.RawMessage(`{"codecs":["opus","vp8"]}`)).AnyTimes()

	s.registry = registry.New(s.engineAPI, json.RawMessage(`{"codecs":[]}`), nil, s.logger)
	s.connMgr = NewConnManager(s.logger)
	s.server = NewServer(
		jsonrpc.NewHandler[sessionContext](s.logger),
		s.registry,
		s.connMgr,
		s.logger,
	)
}

func (s *SignalServerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *SignalServerSuite) params(v any) *json.RawMessage {
	bs, err := json.Marshal(v)
	s.Require().NoError(err)
	return jsonrpc.Ptr(json.RawMessage(bs))
}

func (s *SignalServerSuite) newClient(userID, roomID string) *testClient {
	sctx := &sessionContext{
		connID: fmt.Sprintf("conn-%s", userID),
		userID: userID,
		roomID: roomID,
		reqCtx: context.Background(),
	}
	peer := &mockPeer{}
	mctx := &mockMethodCtx{sctx: sctx, peer: peer}
	peer.mctx = mctx
	return &testClient{sctx: sctx, peer: peer, mctx: mctx}
}

func (s *SignalServerSuite) expectRouter() {
	s.engineAPI.EXPECT().
		CreateRouter(gomock.Any(), gomock.Any()).
		Return(s.router, nil)
}

func (s *SignalServerSuite) join(c *testClient, name string) joinRoomResult {
	result, err := s.server.handleJoinRoom(c.mctx, s.params(joinRoomParams{DisplayName: name}))
	s.Require().NoError(err)
	res, ok := result.(joinRoomResult)
	s.Require().True(ok)
	return res
}

func (s *SignalServerSuite) newTransport(id string) *enginemocks.MockTransport {
	tr := enginemocks.NewMockTransport(s.ctrl)
	tr.EXPECT().ID().Return(id).AnyTimes()
	tr.EXPECT().Info().Return(engine.TransportInfo{
		ID:             id,
		ICEParameters:  json.RawMessage(`{"usernameFragment":"uf"}`),
		ICECandidates:  json.RawMessage(`[]`),
		DTLSParameters: json.RawMessage(`{"role":"auto"}`),
	}).AnyTimes()
	return tr
}

func (s *SignalServerSuite) createTransport(c *testClient, direction, id string) *enginemocks.MockTransport {
	tr := s.newTransport(id)
	s.router.EXPECT().
		CreateTransport(gomock.Any(), gomock.Any()).
		Return(tr, nil)

	result, err := s.server.handleCreateTransport(c.mctx, s.params(createTransportParams{Direction: direction}))
	s.Require().NoError(err)
	res, ok := result.(createTransportResult)
	s.Require().True(ok)
	s.Equal(id, res.TransportID)
	return tr
}

func (s *SignalServerSuite) produce(c *testClient, tr *enginemocks.MockTransport, producerID string, kind engine.Kind) *enginemocks.MockProducer {
	producer := enginemocks.NewMockProducer(s.ctrl)
	producer.EXPECT().ID().Return(producerID).AnyTimes()
	producer.EXPECT().Kind().Return(kind).AnyTimes()

	tr.EXPECT().
		Produce(gomock.Any(), kind, gomock.Any(), gomock.Any()).
		Return(producer, nil)

	result, err := s.server.handleProduce(c.mctx, s.params(produceParams{
		TransportID:   tr.ID(),
		Kind:          kind,
		RtpParameters: json.RawMessage(`{"codecs":[]}`),
	}))
	s.Require().NoError(err)
	res, ok := result.(produceResult)
	s.Require().True(ok)
	s.Equal(producerID, res.ProducerID)
	return producer
}

func (s *SignalServerSuite) consume(c *testClient, recvTr *enginemocks.MockTransport, consumerID, producerID string) *enginemocks.MockConsumer {
	consumer := enginemocks.NewMockConsumer(s.ctrl)
	consumer.EXPECT().ID().Return(consumerID).AnyTimes()
	consumer.EXPECT().ProducerID().Return(producerID).AnyTimes()
	consumer.EXPECT().Kind().Return(engine.KindAudio).AnyTimes()
	consumer.EXPECT().RtpParameters().Return(json.RawMessage(`{}`)).AnyTimes()

	s.router.EXPECT().
		CanConsume(gomock.Any(), producerID, gomock.Any()).
		Return(true, nil)
	recvTr.EXPECT().
		Consume(gomock.Any(), producerID, gomock.Any(), true).
		Return(consumer, nil)

	_, err := s.server.handleConsume(c.mctx, s.params(consumeParams{
		TransportID:     recvTr.ID(),
		ProducerID:      producerID,
		RtpCapabilities: json.RawMessage(`{}`),
	}))
	s.Require().NoError(err)
	return consumer
}

func (s *SignalServerSuite) rpcCode(err error) int64 {
	var rpcErr *jsonrpc.Error
	s.Require().ErrorAs(err, &rpcErr)
	return rpcErr.Code
}

func (s *SignalServerSuite) TestJoinCreatesRoomAndReturnsPeers() {
	s.expectRouter()

	alice := s.newClient("alice", "room-1")
	res := s.join(alice, "Alice")
	s.Equal("room-1", res.RoomID)
	s.Equal(alice.sctx.connID, res.ParticipantID)
	s.Empty(res.Users)

	bob := s.newClient("bob", "room-1")
	res = s.join(bob, "Bob")
	s.Require().Len(res.Users, 1)
	s.Equal(alice.sctx.connID, res.Users[0].ConnID)
	s.Equal("Alice", res.Users[0].DisplayName)

	joinedNotes := alice.peer.byMethod(noteUserJoined)
	s.Require().Len(joinedNotes, 1)
	note, ok := joinedNotes[0].params.(userJoinedNote)
	s.Require().True(ok)
	s.Equal(bob.sctx.connID, note.ParticipantID)
	s.Equal("Bob", note.DisplayName)

	s.Empty(bob.peer.byMethod(noteUserJoined))
}

func (s *SignalServerSuite) TestJoinTwiceRejected() {
	s.expectRouter()

	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")

	_, err := s.server.handleJoinRoom(alice.mctx, s.params(joinRoomParams{DisplayName: "Alice"}))
	s.Require().Error(err)
	s.EqualValues(jsonrpc.CodeInvalidRequest, s.rpcCode(err))
}

func (s *SignalServerSuite) TestJoinInvalidParams() {
	alice := s.newClient("alice", "room-1")

	_, err := s.server.handleJoinRoom(alice.mctx, s.params(map[string]any{}))
	s.Require().Error(err)
	s.EqualValues(jsonrpc.CodeInvalidParams, s.rpcCode(err))

	_, err = s.server.handleJoinRoom(alice.mctx, nil)
	s.Require().Error(err)
	s.EqualValues(jsonrpc.CodeInvalidParams, s.rpcCode(err))
}

func (s *SignalServerSuite) TestJoinUndoneWhenConnectionDiedMidJoin() {
	s.expectRouter()
	s.router.EXPECT().Close(gomock.Any()).Return(nil)

	alice := s.newClient("alice", "room-1")
	alice.sctx.terminated = true

	_, err := s.server.handleJoinRoom(alice.mctx, s.params(joinRoomParams{DisplayName: "Alice"}))
	s.Require().Error(err)
	s.EqualValues(jsonrpc.CodeInvalidRequest, s.rpcCode(err))

	_, ok := s.registry.Get("room-1")
	s.False(ok)
}

// teardownBeforeRegister lands a disconnect teardown in the window
// between the participant hand-off and the fan-out registration, where
// teardown's RemoveConn has nothing to remove yet.
type teardownBeforeRegister struct {
	*mockMethodCtx
	server *Server
	once   sync.Once
}

func (t *teardownBeforeRegister) Peer() jsonrpc.Conn[sessionContext] {
	t.once.Do(func() { t.server.Teardown(t.sctx) })
	return t.mockMethodCtx.Peer()
}

func (s *SignalServerSuite) TestJoinUndoneWhenTeardownRacesRegistration() {
	s.expectRouter()
	s.router.EXPECT().Close(gomock.Any()).Return(nil)

	alice := s.newClient("alice", "room-1")
	mctx := &teardownBeforeRegister{mockMethodCtx: alice.mctx, server: s.server}

	_, err := s.server.handleJoinRoom(mctx, s.params(joinRoomParams{DisplayName: "Alice"}))
	s.Require().Error(err)
	s.EqualValues(jsonrpc.CodeInvalidRequest, s.rpcCode(err))

	// no zombie left behind for broadcasts to hit
	_, ok := s.connMgr.conn(alice.sctx.connID)
	s.False(ok)

	_, ok = s.registry.Get("room-1")
	s.False(ok)
}

func (s *SignalServerSuite) TestRouterCapabilities() {
	alice := s.newClient("alice", "room-1")

	_, err := s.server.handleRouterCapabilities(alice.mctx, nil)
	s.Require().Error(err)

	s.expectRouter()
	s.join(alice, "Alice")

	result, err := s.server.handleRouterCapabilities(alice.mctx, nil)
	s.Require().NoError(err)
	caps, ok := result.(map[string]any)
	s.Require().True(ok)
	s.Equal(json.RawMessage(`{"codecs":["opus","vp8"]}`), caps["rtpCapabilities"])
}

func (s *SignalServerSuite) TestCreateTransportReplaysExisting() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")

	s.createTransport(alice, DirectionSend, "t-send")

	// same direction again: replay, no second engine call
	result, err := s.server.handleCreateTransport(alice.mctx, s.params(createTransportParams{Direction: DirectionSend}))
	s.Require().NoError(err)
	res, ok := result.(createTransportResult)
	s.Require().True(ok)
	s.Equal("t-send", res.TransportID)
}

func (s *SignalServerSuite) TestCreateTransportEngineFailure() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")

	s.router.EXPECT().
		CreateTransport(gomock.Any(), gomock.Any()).
		Return(nil, interrors.New(engine.ErrFailedRequest, "engine down"))

	_, err := s.server.handleCreateTransport(alice.mctx, s.params(createTransportParams{Direction: DirectionSend}))
	s.Require().Error(err)
	s.Equal(codeTransportCreateFailed, s.rpcCode(err))
}

func (s *SignalServerSuite) TestConnectTransport() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	tr := s.createTransport(alice, DirectionSend, "t-send")

	tr.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil)
	_, err := s.server.handleConnectTransport(alice.mctx, s.params(connectTransportParams{
		TransportID:    "t-send",
		DTLSParameters: json.RawMessage(`{"role":"client"}`),
	}))
	s.NoError(err)

	// an id the caller does not own resolves to nothing
	_, err = s.server.handleConnectTransport(alice.mctx, s.params(connectTransportParams{
		TransportID:    "someone-elses-transport",
		DTLSParameters: json.RawMessage(`{"role":"client"}`),
	}))
	s.Require().Error(err)
	s.Equal(codeTransportNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestProduceAnnouncesToReadyPeers() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")

	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")
	s.createTransport(bob, DirectionRecv, "t-b-recv")

	s.produce(alice, sendTr, "prod-1", engine.KindAudio)

	newProds := bob.peer.byMethod(noteNewProducer)
	s.Require().Len(newProds, 1)
	note, ok := newProds[0].params.(producerNote)
	s.Require().True(ok)
	s.Equal("prod-1", note.ProducerID)
	s.Equal("alice", note.UserID)
	s.Equal(engine.KindAudio, note.Kind)

	// the producer's owner never hears its own announcement
	s.Empty(alice.peer.byMethod(noteNewProducer))
}

func (s *SignalServerSuite) TestProduceOnForeignTransport() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	s.createTransport(alice, DirectionSend, "t-a-send")

	_, err := s.server.handleProduce(alice.mctx, s.params(produceParams{
		TransportID:   "not-mine",
		Kind:          engine.KindAudio,
		RtpParameters: json.RawMessage(`{}`),
	}))
	s.Require().Error(err)
	s.Equal(codeTransportNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestConsumeFlow() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")
	s.produce(alice, sendTr, "prod-1", engine.KindVideo)

	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")
	recvTr := s.createTransport(bob, DirectionRecv, "t-b-recv")

	consumer := enginemocks.NewMockConsumer(s.ctrl)
	consumer.EXPECT().ID().Return("cons-1").AnyTimes()
	consumer.EXPECT().ProducerID().Return("prod-1").AnyTimes()
	consumer.EXPECT().Kind().Return(engine.KindVideo).AnyTimes()
	consumer.EXPECT().RtpParameters().Return(json.RawMessage(`{"codecs":[]}`)).AnyTimes()

	s.router.EXPECT().
		CanConsume(gomock.Any(), "prod-1", gomock.Any()).
		Return(true, nil)
	recvTr.EXPECT().
		Consume(gomock.Any(), "prod-1", gomock.Any(), true).
		Return(consumer, nil)

	result, err := s.server.handleConsume(bob.mctx, s.params(consumeParams{
		TransportID:     "t-b-recv",
		ProducerID:      "prod-1",
		RtpCapabilities: json.RawMessage(`{"codecs":[]}`),
	}))
	s.Require().NoError(err)
	res, ok := result.(consumeResult)
	s.Require().True(ok)
	s.Equal("cons-1", res.ConsumerID)
	s.Equal("prod-1", res.ProducerID)
	s.Equal(engine.KindVideo, res.Kind)

	consumer.EXPECT().Resume(gomock.Any()).Return(nil)
	_, err = s.server.handleResumeConsumer(bob.mctx, s.params(resumeConsumerParams{ConsumerID: "cons-1"}))
	s.NoError(err)

	_, err = s.server.handleResumeConsumer(bob.mctx, s.params(resumeConsumerParams{ConsumerID: "nope"}))
	s.Require().Error(err)
	s.Equal(codeConsumerNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestConsumeRejectedByCapabilities() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	s.createTransport(alice, DirectionRecv, "t-a-recv")

	s.router.EXPECT().
		CanConsume(gomock.Any(), "prod-x", gomock.Any()).
		Return(false, nil)

	_, err := s.server.handleConsume(alice.mctx, s.params(consumeParams{
		TransportID:     "t-a-recv",
		ProducerID:      "prod-x",
		RtpCapabilities: json.RawMessage(`{}`),
	}))
	s.Require().Error(err)
	s.Equal(codeConsumeRejected, s.rpcCode(err))
}

func (s *SignalServerSuite) TestConsumeUnknownProducer() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	s.createTransport(alice, DirectionRecv, "t-a-recv")

	s.router.EXPECT().
		CanConsume(gomock.Any(), "gone", gomock.Any()).
		Return(false, interrors.New(engine.ErrNotFound, "no such producer"))

	_, err := s.server.handleConsume(alice.mctx, s.params(consumeParams{
		TransportID:     "t-a-recv",
		ProducerID:      "gone",
		RtpCapabilities: json.RawMessage(`{}`),
	}))
	s.Require().Error(err)
	s.Equal(codeProducerNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestCloseProducerNotifiesRoom() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")
	producer := s.produce(alice, sendTr, "prod-1", engine.KindAudio)

	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")

	producer.EXPECT().Close(gomock.Any()).Return(nil)
	_, err := s.server.handleCloseProducer(alice.mctx, s.params(closeProducerParams{ProducerID: "prod-1"}))
	s.Require().NoError(err)

	closedNotes := bob.peer.byMethod(noteProducerClosed)
	s.Require().Len(closedNotes, 1)
	note, ok := closedNotes[0].params.(producerClosedNote)
	s.Require().True(ok)
	s.Equal("prod-1", note.ProducerID)

	// already removed
	_, err = s.server.handleCloseProducer(alice.mctx, s.params(closeProducerParams{ProducerID: "prod-1"}))
	s.Require().Error(err)
	s.Equal(codeProducerNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestCloseProducerDropsPeerConsumers() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")
	producer := s.produce(alice, sendTr, "prod-1", engine.KindAudio)

	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")
	recvTr := s.createTransport(bob, DirectionRecv, "t-b-recv")
	consumer := s.consume(bob, recvTr, "cons-1", "prod-1")

	producer.EXPECT().Close(gomock.Any()).Return(nil)
	consumer.EXPECT().Close(gomock.Any()).Return(nil)
	_, err := s.server.handleCloseProducer(alice.mctx, s.params(closeProducerParams{ProducerID: "prod-1"}))
	s.Require().NoError(err)

	// bob's consumer dies with the producer it was consuming
	bobPart := bob.sctx.currentParticipant()
	s.Require().NotNil(bobPart)
	_, ok := bobPart.consumer("cons-1")
	s.False(ok)

	_, err = s.server.handleResumeConsumer(bob.mctx, s.params(resumeConsumerParams{ConsumerID: "cons-1"}))
	s.Require().Error(err)
	s.Equal(codeConsumerNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestTeardownDropsPeerConsumersOfOwnProducers() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")
	producer := s.produce(alice, sendTr, "prod-1", engine.KindAudio)

	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")
	recvTr := s.createTransport(bob, DirectionRecv, "t-b-recv")
	consumer := s.consume(bob, recvTr, "cons-1", "prod-1")

	producer.EXPECT().Close(gomock.Any()).Return(nil)
	sendTr.EXPECT().Close(gomock.Any()).Return(nil)
	consumer.EXPECT().Close(gomock.Any()).Return(nil)

	s.server.Teardown(alice.sctx)

	bobPart := bob.sctx.currentParticipant()
	s.Require().NotNil(bobPart)
	_, ok := bobPart.consumer("cons-1")
	s.False(ok)

	// bob keeps the room alive
	room, ok := s.registry.Get("room-1")
	s.Require().True(ok)
	s.Equal(1, room.Size())
}

func (s *SignalServerSuite) TestResumeConsumerGoneInEngine() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")
	s.produce(alice, sendTr, "prod-1", engine.KindAudio)

	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")
	recvTr := s.createTransport(bob, DirectionRecv, "t-b-recv")
	consumer := s.consume(bob, recvTr, "cons-1", "prod-1")

	consumer.EXPECT().
		Resume(gomock.Any()).
		Return(interrors.New(engine.ErrNotFound, "no such consumer"))

	_, err := s.server.handleResumeConsumer(bob.mctx, s.params(resumeConsumerParams{ConsumerID: "cons-1"}))
	s.Require().Error(err)
	s.Equal(codeConsumerNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestConnectTransportGoneInEngine() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	tr := s.createTransport(alice, DirectionSend, "t-a-send")

	tr.EXPECT().
		Connect(gomock.Any(), gomock.Any()).
		Return(interrors.New(engine.ErrNotFound, "no such transport"))

	_, err := s.server.handleConnectTransport(alice.mctx, s.params(connectTransportParams{
		TransportID:    "t-a-send",
		DTLSParameters: json.RawMessage(`{"role":"client"}`),
	}))
	s.Require().Error(err)
	s.Equal(codeTransportNotFound, s.rpcCode(err))
}

func (s *SignalServerSuite) TestChatMessage() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")

	_, err := s.server.handleChatMessage(alice.mctx, s.params(chatMessageParams{Message: "hello"}))
	s.Require().NoError(err)

	chats := bob.peer.byMethod(noteChatMessage)
	s.Require().Len(chats, 1)
	note, ok := chats[0].params.(chatMessageNote)
	s.Require().True(ok)
	s.Equal("hello", note.Message)
	s.Equal(alice.sctx.connID, note.From)
	s.Equal("Alice", note.DisplayName)

	s.Empty(alice.peer.byMethod(noteChatMessage))
}

func (s *SignalServerSuite) TestUpdateName() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")

	_, err := s.server.handleUpdateName(alice.mctx, s.params(updateNameParams{DisplayName: "Alicia"}))
	s.Require().NoError(err)

	s.Equal("Alicia", alice.sctx.currentParticipant().DisplayName())

	updates := bob.peer.byMethod(noteNameUpdated)
	s.Require().Len(updates, 1)
	note, ok := updates[0].params.(nameUpdatedNote)
	s.Require().True(ok)
	s.Equal(alice.sctx.connID, note.ParticipantID)
	s.Equal("Alicia", note.DisplayName)
}

func (s *SignalServerSuite) TestSignalRelay() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")

	payload := json.RawMessage(`{"kind":"custom"}`)
	_, err := s.server.handleSignal(alice.mctx, s.params(signalParams{To: bob.sctx.connID, Data: payload}))
	s.Require().NoError(err)

	signals := bob.peer.byMethod(noteSignal)
	s.Require().Len(signals, 1)
	note, ok := signals[0].params.(signalNote)
	s.Require().True(ok)
	s.Equal(alice.sctx.connID, note.From)
	s.Equal(payload, note.Data)
}

func (s *SignalServerSuite) TestSignalDroppedAcrossRooms() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")

	s.expectRouter()
	carol := s.newClient("carol", "room-2")
	s.join(carol, "Carol")

	// a target in another room is silently dropped, not an error
	_, err := s.server.handleSignal(alice.mctx, s.params(signalParams{
		To:   carol.sctx.connID,
		Data: json.RawMessage(`{}`),
	}))
	s.Require().NoError(err)
	s.Empty(carol.peer.byMethod(noteSignal))

	// so is a target that never existed
	_, err = s.server.handleSignal(alice.mctx, s.params(signalParams{
		To:   "ghost",
		Data: json.RawMessage(`{}`),
	}))
	s.NoError(err)
}

func (s *SignalServerSuite) TestLeaveDisposesRoomWhenLastOut() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")

	_, err := s.server.handleLeave(alice.mctx, nil)
	s.Require().NoError(err)
	s.True(alice.peer.isClosed())

	leftNotes := bob.peer.byMethod(noteUserLeft)
	s.Require().Len(leftNotes, 1)
	note, ok := leftNotes[0].params.(userLeftNote)
	s.Require().True(ok)
	s.Equal(alice.sctx.connID, note.ParticipantID)

	// bob is still in, the room survives
	room, ok := s.registry.Get("room-1")
	s.Require().True(ok)
	s.Equal(1, room.Size())

	s.router.EXPECT().Close(gomock.Any()).Return(nil)
	_, err = s.server.handleLeave(bob.mctx, nil)
	s.Require().NoError(err)

	_, ok = s.registry.Get("room-1")
	s.False(ok)
}

func (s *SignalServerSuite) TestDisconnectCascadesEngineCleanup() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")
	recvTr := s.createTransport(alice, DirectionRecv, "t-a-recv")
	producer := s.produce(alice, sendTr, "prod-1", engine.KindAudio)

	consumer := enginemocks.NewMockConsumer(s.ctrl)
	consumer.EXPECT().ID().Return("cons-1").AnyTimes()
	consumer.EXPECT().ProducerID().Return("prod-other").AnyTimes()
	consumer.EXPECT().Kind().Return(engine.KindAudio).AnyTimes()
	consumer.EXPECT().RtpParameters().Return(json.RawMessage(`{}`)).AnyTimes()
	s.router.EXPECT().CanConsume(gomock.Any(), "prod-other", gomock.Any()).Return(true, nil)
	recvTr.EXPECT().Consume(gomock.Any(), "prod-other", gomock.Any(), true).Return(consumer, nil)
	_, err := s.server.handleConsume(alice.mctx, s.params(consumeParams{
		TransportID:     "t-a-recv",
		ProducerID:      "prod-other",
		RtpCapabilities: json.RawMessage(`{}`),
	}))
	s.Require().NoError(err)

	consumer.EXPECT().Close(gomock.Any()).Return(nil)
	producer.EXPECT().Close(gomock.Any()).Return(nil)
	sendTr.EXPECT().Close(gomock.Any()).Return(nil)
	recvTr.EXPECT().Close(gomock.Any()).Return(nil)
	s.router.EXPECT().Close(gomock.Any()).Return(nil)

	s.server.Teardown(alice.sctx)

	_, ok := s.registry.Get("room-1")
	s.False(ok)

	// a second teardown finds nothing left to do
	s.server.Teardown(alice.sctx)
}

func (s *SignalServerSuite) TestExistingProducersFlushedExactlyOnce() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	sendTr := s.createTransport(alice, DirectionSend, "t-a-send")
	s.produce(alice, sendTr, "prod-1", engine.KindAudio)
	s.produce(alice, sendTr, "prod-2", engine.KindVideo)

	bob := s.newClient("bob", "room-1")
	s.join(bob, "Bob")

	// announced after bob joined but before his recv transport is ready:
	// must land in the flush, not as a separate notification
	s.produce(alice, sendTr, "prod-3", engine.KindAudio)

	s.Empty(bob.peer.byMethod(noteExistingProducers))
	s.Empty(bob.peer.byMethod(noteNewProducer))

	s.createTransport(bob, DirectionRecv, "t-b-recv")

	flushes := bob.peer.byMethod(noteExistingProducers)
	s.Require().Len(flushes, 1)
	pending, ok := flushes[0].params.([]producerNote)
	s.Require().True(ok)
	s.Require().Len(pending, 3)

	seen := make(map[string]bool)
	for _, note := range pending {
		seen[note.ProducerID] = true
	}
	s.True(seen["prod-1"])
	s.True(seen["prod-2"])
	s.True(seen["prod-3"])

	s.Empty(bob.peer.byMethod(noteNewProducer))

	// a repeated recv request replays the transport but never re-flushes
	result, err := s.server.handleCreateTransport(bob.mctx, s.params(createTransportParams{Direction: DirectionRecv}))
	s.Require().NoError(err)
	res, ok := result.(createTransportResult)
	s.Require().True(ok)
	s.Equal("t-b-recv", res.TransportID)
	s.Len(bob.peer.byMethod(noteExistingProducers), 1)

	// post-flush announcements arrive individually, exactly once
	s.produce(alice, sendTr, "prod-4", engine.KindVideo)
	newProds := bob.peer.byMethod(noteNewProducer)
	s.Require().Len(newProds, 1)
	note, ok := newProds[0].params.(producerNote)
	s.Require().True(ok)
	s.Equal("prod-4", note.ProducerID)
}

func (s *SignalServerSuite) TestJoinerWithNoPeersFlushesEmptyList() {
	s.expectRouter()
	alice := s.newClient("alice", "room-1")
	s.join(alice, "Alice")
	s.createTransport(alice, DirectionRecv, "t-a-recv")

	flushes := alice.peer.byMethod(noteExistingProducers)
	s.Require().Len(flushes, 1)
	pending, ok := flushes[0].params.([]producerNote)
	s.Require().True(ok)
	s.Empty(pending)
}

func (s *SignalServerSuite) TestNotJoinedRejected() {
	alice := s.newClient("alice", "room-1")

	for name, call := range map[string]func() (any, error){
		"create-transport": func() (any, error) {
			return s.server.handleCreateTransport(alice.mctx, s.params(createTransportParams{Direction: DirectionSend}))
		},
		"produce": func() (any, error) {
			return s.server.handleProduce(alice.mctx, s.params(produceParams{
				TransportID:   "t",
				Kind:          engine.KindAudio,
				RtpParameters: json.RawMessage(`{}`),
			}))
		},
		"chat-message": func() (any, error) {
			return s.server.handleChatMessage(alice.mctx, s.params(chatMessageParams{Message: "hi"}))
		},
		"leave": func() (any, error) {
			return s.server.handleLeave(alice.mctx, nil)
		},
	} {
		_, err := call()
		s.Require().Error(err, name)
		s.EqualValues(jsonrpc.CodeInvalidRequest, s.rpcCode(err), name)
	}
}
