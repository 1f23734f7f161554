package signal

import (
	"encoding/json"
	"time"

	"github.com/telemeet/sfu-coordinator/coordinator/registry"
	"github.com/telemeet/sfu-coordinator/engine"
)

// client → coordinator methods
const (
	methodJoinRoom       = "join-room"
	methodRouterCaps     = "get-router-capabilities"
	methodCreateTranspt  = "create-transport"
	methodConnectTranspt = "connect-transport"
	methodProduce        = "produce"
	methodConsume        = "consume"
	methodResumeConsumer = "resume-consumer"
	methodCloseProducer  = "close-producer"
	methodChatMessage    = "chat-message"
	methodUpdateName     = "update-name"
	methodSignal         = "signal"
	methodLeave          = "leave"
)

// coordinator → client notifications
const (
	noteUserJoined        = "user-joined"
	noteUserLeft          = "user-left"
	noteNewProducer       = "new-producer"
	noteExistingProducers = "existing-producers"
	noteProducerClosed    = "producer-closed"
	noteChatMessage       = "chat-message"
	noteNameUpdated       = "name-updated"
	noteSignal            = "signal"
)

const (
	DirectionSend = "send"
	DirectionRecv = "recv"
)

type joinRoomParams struct {
	DisplayName string `json:"displayName" validate:"required,max=64"`
}

type joinRoomResult struct {
	RoomID        string                `json:"roomId"`
	ParticipantID string                `json:"participantId"`
	Users         []registry.MemberInfo `json:"users"`
}

type createTransportParams struct {
	Direction string `json:"direction" validate:"required,oneof=send recv"`
}

type createTransportResult struct {
	TransportID    string          `json:"transportId"`
	ICEParameters  json.RawMessage `json:"iceParameters"`
	ICECandidates  json.RawMessage `json:"iceCandidates"`
	DTLSParameters json.RawMessage `json:"dtlsParameters"`
}

type connectTransportParams struct {
	TransportID    string          `json:"transportId" validate:"required"`
	DTLSParameters json.RawMessage `json:"dtlsParameters" validate:"required"`
}

type produceParams struct {
	TransportID   string          `json:"transportId" validate:"required"`
	Kind          engine.Kind     `json:"kind" validate:"required,oneof=audio video"`
	RtpParameters json.RawMessage `json:"rtpParameters" validate:"required"`
	AppData       json.RawMessage `json:"appData"`
}

type produceResult struct {
	ProducerID string `json:"producerId"`
}

type consumeParams struct {
	TransportID     string          `json:"transportId" validate:"required"`
	ProducerID      string          `json:"producerId" validate:"required"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities" validate:"required"`
}

type consumeResult struct {
	ConsumerID    string          `json:"consumerId"`
	ProducerID    string          `json:"producerId"`
	Kind          engine.Kind     `json:"kind"`
	RtpParameters json.RawMessage `json:"rtpParameters"`
}

type resumeConsumerParams struct {
	ConsumerID string `json:"consumerId" validate:"required"`
}

type closeProducerParams struct {
	ProducerID string `json:"producerId" validate:"required"`
}

type chatMessageParams struct {
	Message string `json:"message" validate:"required,max=2048"`
}

type updateNameParams struct {
	DisplayName string `json:"displayName" validate:"required,max=64"`
}

type signalParams struct {
	To   string          `json:"to" validate:"required"`
	Data json.RawMessage `json:"data" validate:"required"`
}

// producerNote announces one producer to a room peer. The same shape is
// used inside the existing-producers list sent to a fresh joiner.
type producerNote struct {
	ProducerID  string      `json:"producerId"`
	UserID      string      `json:"userId"`
	DisplayName string      `json:"displayName"`
	Kind        engine.Kind `json:"kind"`
}

type userJoinedNote struct {
	ParticipantID string `json:"participantId"`
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
}

type userLeftNote struct {
	ParticipantID string `json:"participantId"`
	UserID        string `json:"userId"`
}

type producerClosedNote struct {
	ProducerID string `json:"producerId"`
	UserID     string `json:"userId"`
}

type chatMessageNote struct {
	From        string    `json:"from"`
	DisplayName string    `json:"displayName"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sentAt"`
}

type nameUpdatedNote struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
}

type signalNote struct {
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}
