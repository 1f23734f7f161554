package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/telemeet/sfu-coordinator/coordinator/registry"
	"github.com/telemeet/sfu-coordinator/engine"
	"github.com/telemeet/sfu-coordinator/internal/errors"
	"github.com/telemeet/sfu-coordinator/internal/jsonrpc"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

const teardownTimeout = 10 * time.Second

// Server is the signaling gateway: it owns the RPC method table and
// drives room membership, transport negotiation and the producer
// broadcast protocol on behalf of connected clients.
type Server struct {
	jsonrpc.Handler[sessionContext]
	registry *registry.Registry
	connMgr  *ConnManager
	logger   *log.Logger
}

func NewServer(
	handler jsonrpc.Handler[sessionContext],
	reg *registry.Registry,
	connMgr *ConnManager,
	logger *log.Logger,
) *Server {
	return &Server{
		Handler:  handler,
		registry: reg,
		connMgr:  connMgr,
		logger:   logger,
	}
}

func (s *Server) Open(ctx context.Context) error {
	s.logger.Info("Opening signal server")
	s.register()
	return nil
}

func (s *Server) Close() error {
	s.logger.Info("Closing signal server")
	return nil
}

func (s *Server) register() {
	// handler table is single threaded, no need to lock here
	s.Def(methodJoinRoom, s.handleJoinRoom)
	s.Def(methodRouterCaps, s.handleRouterCapabilities)
	s.Def(methodCreateTranspt, s.handleCreateTransport)
	s.Def(methodConnectTranspt, s.handleConnectTransport)
	s.Def(methodProduce, s.handleProduce)
	s.Def(methodConsume, s.handleConsume)
	s.Def(methodResumeConsumer, s.handleResumeConsumer)
	s.Def(methodCloseProducer, s.handleCloseProducer)
	s.Def(methodChatMessage, s.handleChatMessage)
	s.Def(methodUpdateName, s.handleUpdateName)
	s.Def(methodSignal, s.handleSignal)
	s.Def(methodLeave, s.handleLeave)
}

func (s *Server) handleJoinRoom(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	if sctx.joined() {
		return nil, jsonrpc.ErrInvalidRequest("already joined")
	}

	var data joinRoomParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid join parameters")
	}

	ctx := sctx.reqCtx
	part := NewParticipant(sctx.connID, sctx.userID, data.DisplayName)

	room, err := s.registry.Join(ctx, sctx.roomID, part)
	if err != nil {
		s.logger.Error("Failed to join room",
			log.String("roomId", sctx.roomID),
			log.String("connId", sctx.connID),
			log.Error(err),
		)
		return nil, jsonrpc.ErrInternal("failed to join room")
	}

	// the connection may have died while the router was being created;
	// its disconnect teardown ran against a nil participant, so undo here
	sctx.mu.Lock()
	if sctx.terminated {
		sctx.mu.Unlock()
		s.registry.Leave(ctx, sctx.roomID, sctx.connID)
		part.close(ctx, s.logger)
		return nil, jsonrpc.ErrInvalidRequest("connection closed")
	}
	sctx.participant = part
	sctx.mu.Unlock()

	members := room.Members()
	users := make([]registry.MemberInfo, 0, len(members))
	for _, m := range members {
		if m.ConnID != sctx.connID {
			users = append(users, m)
		}
	}

	// visible to broadcasts before the producer snapshot, so a racing
	// produce lands in the buffer; the dedupe set keeps a producer that
	// made both paths from being offered twice
	s.connMgr.AddConn(sctx.connID, sctx.roomID, mctx.Peer())

	// teardown may have run between the participant hand-off above and
	// AddConn; its RemoveConn saw nothing to remove, so undo here or the
	// dead connection stays in the fan-out maps forever
	sctx.mu.Lock()
	terminated := sctx.terminated
	sctx.mu.Unlock()
	if terminated {
		s.connMgr.RemoveConn(sctx.connID)
		s.registry.Leave(ctx, sctx.roomID, sctx.connID)
		part.close(ctx, s.logger)
		return nil, jsonrpc.ErrInvalidRequest("connection closed")
	}

	for _, conn := range s.connMgr.roomConns(sctx.roomID, sctx.connID) {
		peer := conn.Context().Get()
		if peer == nil {
			continue
		}
		peerPart := peer.currentParticipant()
		if peerPart == nil {
			continue
		}
		for _, note := range peerPart.announcements() {
			// buffered until the recv transport is ready
			part.enqueueProducer(note)
		}
	}

	s.connMgr.NotifyRoom(sctx.roomID, sctx.connID, noteUserJoined, userJoinedNote{
		ParticipantID: sctx.connID,
		UserID:        sctx.userID,
		DisplayName:   data.DisplayName,
	})

	joinsTotal.Add(ctx, 1)
	s.logger.Info("Participant joined",
		log.String("roomId", sctx.roomID),
		log.String("connId", sctx.connID),
		log.String("userId", sctx.userID),
	)

	return joinRoomResult{
		RoomID:        sctx.roomID,
		ParticipantID: sctx.connID,
		Users:         users,
	}, nil
}

func (s *Server) handleRouterCapabilities(mctx jsonrpc.MethodContext[sessionContext], _ *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	if !sctx.joined() {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	room, ok := s.registry.Get(sctx.roomID)
	if !ok {
		return nil, errRoomNotFound()
	}
	return map[string]any{
		"rtpCapabilities": room.Router().RtpCapabilities(),
	}, nil
}

func (s *Server) handleCreateTransport(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data createTransportParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid transport parameters")
	}

	// a repeated request for the same direction replays the existing
	// transport's parameters instead of creating a duplicate
	if existing, ok := part.transport(data.Direction); ok {
		return transportResult(existing), nil
	}

	room, ok := s.registry.Get(sctx.roomID)
	if !ok {
		return nil, errRoomNotFound()
	}

	ctx := sctx.reqCtx
	appData, _ := json.Marshal(map[string]string{
		"direction": data.Direction,
		"connId":    sctx.connID,
	})

	transport, err := room.Router().CreateTransport(ctx, engine.TransportOptions{
		AppData: appData,
	})
	if err != nil {
		s.logger.Error("Failed to create transport",
			log.String("connId", sctx.connID),
			log.String("direction", data.Direction),
			log.Error(err),
		)
		return nil, errTransportCreateFailed()
	}

	if !part.adoptTransport(data.Direction, transport) {
		// closed (or direction filled) while the engine call was in
		// flight; the fresh transport is an orphan
		s.closeOrphanTransport(transport)
		if existing, ok := part.transport(data.Direction); ok {
			return transportResult(existing), nil
		}
		return nil, jsonrpc.ErrInvalidRequest("connection closed")
	}

	transportsCreated.Add(ctx, 1)

	if data.Direction == DirectionRecv {
		s.flushAnnouncements(mctx, part)
	}
	return transportResult(transport), nil
}

// flushAnnouncements delivers the producers buffered before the recv
// transport became ready as one existing-producers list. markRecvReady
// hands the buffer out exactly once; repeated create-transport requests
// never re-flush.
func (s *Server) flushAnnouncements(mctx jsonrpc.MethodContext[sessionContext], part *Participant) {
	pending, flushed := part.markRecvReady()
	if !flushed {
		return
	}
	if pending == nil {
		pending = []producerNote{}
	}

	sctx := mctx.Get()
	if err := mctx.Peer().Notify(sctx.reqCtx, noteExistingProducers, pending); err != nil {
		notificationsFailed.Add(sctx.reqCtx, 1)
		s.logger.Warn("failed to flush producer announcements",
			log.String("connId", sctx.connID),
			log.Error(err),
		)
		return
	}
	notificationsSent.Add(sctx.reqCtx, 1)
}

func transportResult(t engine.Transport) createTransportResult {
	info := t.Info()
	return createTransportResult{
		TransportID:    info.ID,
		ICEParameters:  info.ICEParameters,
		ICECandidates:  info.ICECandidates,
		DTLSParameters: info.DTLSParameters,
	}
}

func (s *Server) closeOrphanTransport(t engine.Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := t.Close(ctx); err != nil {
		s.logger.Warn("failed to close orphan transport",
			log.String("transportId", t.ID()),
			log.Error(err),
		)
	}
}

func (s *Server) handleConnectTransport(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data connectTransportParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid connect parameters")
	}

	transport, ok := part.transportByID(data.TransportID)
	if !ok {
		return nil, errTransportNotFound()
	}

	if err := transport.Connect(sctx.reqCtx, data.DTLSParameters); err != nil {
		// the engine may have dropped the transport behind our back
		if errors.Is(err, engine.ErrNotFound) {
			return nil, errTransportNotFound()
		}
		s.logger.Error("Failed to connect transport",
			log.String("connId", sctx.connID),
			log.String("transportId", data.TransportID),
			log.Error(err),
		)
		return nil, jsonrpc.ErrInternal("failed to connect transport")
	}

	//nolint:nilnil
	return nil, nil
}

func (s *Server) handleProduce(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data produceParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid produce parameters")
	}

	// producing is only valid on the caller's own send transport
	sendTransport, ok := part.transport(DirectionSend)
	if !ok || sendTransport.ID() != data.TransportID {
		return nil, errTransportNotFound()
	}

	ctx := sctx.reqCtx
	producer, err := sendTransport.Produce(ctx, data.Kind, data.RtpParameters, data.AppData)
	if err != nil {
		s.logger.Error("Failed to produce",
			log.String("connId", sctx.connID),
			log.String("kind", string(data.Kind)),
			log.Error(err),
		)
		return nil, jsonrpc.ErrInternal("failed to produce")
	}

	if !part.adoptProducer(producer) {
		s.closeOrphanProducer(producer)
		return nil, jsonrpc.ErrInvalidRequest("connection closed")
	}

	producesTotal.Add(ctx, 1)

	s.connMgr.AnnounceToRoom(sctx.roomID, sctx.connID, producerNote{
		ProducerID:  producer.ID(),
		UserID:      sctx.userID,
		DisplayName: part.DisplayName(),
		Kind:        producer.Kind(),
	})

	return produceResult{ProducerID: producer.ID()}, nil
}

func (s *Server) closeOrphanProducer(p engine.Producer) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		s.logger.Warn("failed to close orphan producer",
			log.String("producerId", p.ID()),
			log.Error(err),
		)
	}
}

func (s *Server) handleConsume(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data consumeParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid consume parameters")
	}

	// consuming is only valid on the caller's own recv transport
	recvTransport, ok := part.transport(DirectionRecv)
	if !ok || recvTransport.ID() != data.TransportID {
		return nil, errTransportNotFound()
	}

	room, ok := s.registry.Get(sctx.roomID)
	if !ok {
		return nil, errRoomNotFound()
	}

	ctx := sctx.reqCtx
	canConsume, err := room.Router().CanConsume(ctx, data.ProducerID, data.RtpCapabilities)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, errProducerNotFound()
		}
		s.logger.Error("Capability check failed",
			log.String("connId", sctx.connID),
			log.String("producerId", data.ProducerID),
			log.Error(err),
		)
		return nil, jsonrpc.ErrInternal("capability check failed")
	}
	if !canConsume {
		return nil, errConsumeRejected()
	}

	// created paused; the client resumes once its side is wired up
	consumer, err := recvTransport.Consume(ctx, data.ProducerID, data.RtpCapabilities, true)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, errProducerNotFound()
		}
		s.logger.Error("Failed to consume",
			log.String("connId", sctx.connID),
			log.String("producerId", data.ProducerID),
			log.Error(err),
		)
		return nil, jsonrpc.ErrInternal("failed to consume")
	}

	if !part.adoptConsumer(consumer) {
		s.closeOrphanConsumer(consumer)
		return nil, jsonrpc.ErrInvalidRequest("connection closed")
	}

	consumesTotal.Add(ctx, 1)

	return consumeResult{
		ConsumerID:    consumer.ID(),
		ProducerID:    consumer.ProducerID(),
		Kind:          consumer.Kind(),
		RtpParameters: consumer.RtpParameters(),
	}, nil
}

// dropPeerConsumers removes room peers' consumers of a producer that no
// longer exists and closes them against the engine. A consumer lives
// only as long as its producer; leaving the entry behind would let a
// later resume hit a dead engine object.
func (s *Server) dropPeerConsumers(ctx context.Context, roomID, ownerConnID, producerID string) {
	for _, conn := range s.connMgr.roomConns(roomID, ownerConnID) {
		peer := conn.Context().Get()
		if peer == nil {
			continue
		}
		peerPart := peer.currentParticipant()
		if peerPart == nil {
			continue
		}
		for _, consumer := range peerPart.removeConsumersOf(producerID) {
			if err := consumer.Close(ctx); err != nil && !errors.Is(err, engine.ErrNotFound) {
				s.logger.Warn("failed to close consumer of dead producer",
					log.String("connId", peerPart.ConnID()),
					log.String("consumerId", consumer.ID()),
					log.String("producerId", producerID),
					log.Error(err),
				)
			}
		}
	}
}

func (s *Server) closeOrphanConsumer(c engine.Consumer) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		s.logger.Warn("failed to close orphan consumer",
			log.String("consumerId", c.ID()),
			log.Error(err),
		)
	}
}

func (s *Server) handleResumeConsumer(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data resumeConsumerParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid resume parameters")
	}

	consumer, ok := part.consumer(data.ConsumerID)
	if !ok {
		return nil, errConsumerNotFound()
	}

	if err := consumer.Resume(sctx.reqCtx); err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			return nil, errConsumerNotFound()
		}
		s.logger.Error("Failed to resume consumer",
			log.String("connId", sctx.connID),
			log.String("consumerId", data.ConsumerID),
			log.Error(err),
		)
		return nil, jsonrpc.ErrInternal("failed to resume consumer")
	}

	//nolint:nilnil
	return nil, nil
}

func (s *Server) handleCloseProducer(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data closeProducerParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid close-producer parameters")
	}

	producer, ok := part.removeProducer(data.ProducerID)
	if !ok {
		return nil, errProducerNotFound()
	}

	if err := producer.Close(sctx.reqCtx); err != nil {
		s.logger.Warn("failed to close producer",
			log.String("connId", sctx.connID),
			log.String("producerId", data.ProducerID),
			log.Error(err),
		)
	}

	s.dropPeerConsumers(sctx.reqCtx, sctx.roomID, sctx.connID, data.ProducerID)

	s.connMgr.NotifyRoom(sctx.roomID, sctx.connID, noteProducerClosed, producerClosedNote{
		ProducerID: data.ProducerID,
		UserID:     sctx.userID,
	})

	//nolint:nilnil
	return nil, nil
}

func (s *Server) handleChatMessage(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data chatMessageParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid chat parameters")
	}

	s.connMgr.NotifyRoom(sctx.roomID, sctx.connID, noteChatMessage, chatMessageNote{
		From:        sctx.connID,
		DisplayName: part.DisplayName(),
		Message:     data.Message,
		SentAt:      time.Now(),
	})

	//nolint:nilnil
	return nil, nil
}

func (s *Server) handleUpdateName(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	part := sctx.currentParticipant()
	if part == nil {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data updateNameParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid update-name parameters")
	}

	part.setDisplayName(data.DisplayName)

	s.connMgr.NotifyRoom(sctx.roomID, sctx.connID, noteNameUpdated, nameUpdatedNote{
		ParticipantID: sctx.connID,
		DisplayName:   data.DisplayName,
	})

	//nolint:nilnil
	return nil, nil
}

func (s *Server) handleSignal(mctx jsonrpc.MethodContext[sessionContext], params *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	if !sctx.joined() {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	var data signalParams
	if err := jsonrpc.ShouldBindParams(params, &data); err != nil {
		return nil, jsonrpc.ErrInvalidParams("invalid signal parameters")
	}

	// unknown or departed targets are dropped silently; relaying is
	// best-effort and never an error. Targets outside the caller's room
	// are treated the same way.
	if !s.connMgr.sameRoom(sctx.connID, data.To) {
		return nil, nil //nolint:nilnil
	}
	s.connMgr.NotifyConn(data.To, noteSignal, signalNote{
		From: sctx.connID,
		Data: data.Data,
	})

	//nolint:nilnil
	return nil, nil
}

func (s *Server) handleLeave(mctx jsonrpc.MethodContext[sessionContext], _ *json.RawMessage) (any, error) {
	sctx := mctx.Get()
	if !sctx.joined() {
		return nil, jsonrpc.ErrInvalidRequest("not joined yet")
	}

	s.Teardown(sctx)

	if err := mctx.Peer().Close(); err != nil {
		s.logger.Error("Failed to close connection", log.Error(err))
	}

	//nolint:nilnil
	return nil, nil
}

// Teardown runs the terminal transition for a connection: cascade-close
// the participant's engine objects, drop it from the room (disposing the
// room when it empties) and tell the remaining peers. Invoked on
// explicit leave and on disconnect; safe to call more than once and at
// any negotiation stage.
func (s *Server) Teardown(sctx *sessionContext) {
	sctx.mu.Lock()
	sctx.terminated = true
	part := sctx.participant
	sctx.participant = nil
	sctx.mu.Unlock()

	s.connMgr.RemoveConn(sctx.connID)
	if part == nil {
		return
	}

	// the request context may already be canceled on disconnect
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	producerIDs, _ := part.close(ctx, s.logger)
	for _, producerID := range producerIDs {
		s.dropPeerConsumers(ctx, sctx.roomID, sctx.connID, producerID)
	}
	s.registry.Leave(ctx, sctx.roomID, sctx.connID)
	s.connMgr.NotifyRoom(sctx.roomID, sctx.connID, noteUserLeft, userLeftNote{
		ParticipantID: sctx.connID,
		UserID:        sctx.userID,
	})

	teardownsTotal.Add(ctx, 1)
	s.logger.Info("Participant left",
		log.String("roomId", sctx.roomID),
		log.String("connId", sctx.connID),
	)
}
