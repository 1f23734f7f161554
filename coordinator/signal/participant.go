package signal

import (
	"context"
	"sync"

	"github.com/telemeet/sfu-coordinator/engine"
	"github.com/telemeet/sfu-coordinator/internal/log"
)

// Participant is the media-side state of one joined connection: its two
// transports, the producers it uploads and the consumers it receives.
// Handlers of other connections reach into it for announcements, so all
// state is guarded by one mutex. closed is terminal; once set, nothing
// is adopted and nothing is delivered.
type Participant struct {
	connID string
	userID string

	mu            sync.Mutex
	displayName   string
	closed        bool
	sendTransport engine.Transport
	recvTransport engine.Transport
	producers     map[string]engine.Producer
	consumers     map[string]engine.Consumer

	// producer announcements queued until the recv transport is ready;
	// announced dedupes so a producer is offered to this participant at
	// most once no matter how announce and join interleave
	recvReady bool
	pending   []producerNote
	announced map[string]bool
}

func NewParticipant(connID, userID, displayName string) *Participant {
	return &Participant{
		connID:      connID,
		userID:      userID,
		displayName: displayName,
		producers:   make(map[string]engine.Producer),
		consumers:   make(map[string]engine.Consumer),
		announced:   make(map[string]bool),
	}
}

func (p *Participant) ConnID() string {
	return p.connID
}

func (p *Participant) UserID() string {
	return p.userID
}

func (p *Participant) DisplayName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.displayName
}

func (p *Participant) setDisplayName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.displayName = name
}

func (p *Participant) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// transport returns the transport of the given direction, if created.
func (p *Participant) transport(direction string) (engine.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.sendTransport
	if direction == DirectionRecv {
		t = p.recvTransport
	}
	return t, t != nil
}

// transportByID resolves a transport the participant owns. Foreign ids
// resolve to nothing, which callers surface as transport-not-found.
func (p *Participant) transportByID(id string) (engine.Transport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sendTransport != nil && p.sendTransport.ID() == id {
		return p.sendTransport, true
	}
	if p.recvTransport != nil && p.recvTransport.ID() == id {
		return p.recvTransport, true
	}
	return nil, false
}

// adoptTransport installs a freshly created transport. It reports false
// when the participant closed while the engine call was in flight, or
// when a transport of that direction already exists; the caller must
// close the orphan against the engine.
func (p *Participant) adoptTransport(direction string, t engine.Transport) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	if direction == DirectionSend {
		if p.sendTransport != nil {
			return false
		}
		p.sendTransport = t
		return true
	}
	if p.recvTransport != nil {
		return false
	}
	p.recvTransport = t
	return true
}

func (p *Participant) adoptProducer(producer engine.Producer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.producers[producer.ID()] = producer
	return true
}

func (p *Participant) producer(id string) (engine.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	producer, ok := p.producers[id]
	return producer, ok
}

func (p *Participant) removeProducer(id string) (engine.Producer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	producer, ok := p.producers[id]
	if ok {
		delete(p.producers, id)
	}
	return producer, ok
}

func (p *Participant) adoptConsumer(consumer engine.Consumer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.consumers[consumer.ID()] = consumer
	return true
}

func (p *Participant) consumer(id string) (engine.Consumer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	consumer, ok := p.consumers[id]
	return consumer, ok
}

// removeConsumersOf drops this participant's consumers of the given
// producer and hands them back for the engine-side close. A consumer
// lives only as long as both its producer and its own transport do.
func (p *Participant) removeConsumersOf(producerID string) []engine.Consumer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed []engine.Consumer
	for id, consumer := range p.consumers {
		if consumer.ProducerID() == producerID {
			removed = append(removed, consumer)
			delete(p.consumers, id)
		}
	}
	return removed
}

// announcements snapshots the participant's own producers for the
// existing-producers list sent to a fresh joiner.
func (p *Participant) announcements() []producerNote {
	p.mu.Lock()
	defer p.mu.Unlock()

	notes := make([]producerNote, 0, len(p.producers))
	for _, producer := range p.producers {
		notes = append(notes, producerNote{
			ProducerID:  producer.ID(),
			UserID:      p.userID,
			DisplayName: p.displayName,
			Kind:        producer.Kind(),
		})
	}
	return notes
}

// enqueueProducer decides the fate of one producer announcement:
// deliver now (recv transport ready), buffer for the flush (not ready
// yet), or drop (participant closed, or producer already announced).
// The decision is atomic with the ready flag, so an announcement can
// never fall between buffer and flush, and the dedupe set keeps
// announce-vs-join interleavings from offering a producer twice.
func (p *Participant) enqueueProducer(note producerNote) (deliver bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.announced[note.ProducerID] {
		return false
	}
	p.announced[note.ProducerID] = true
	if !p.recvReady {
		p.pending = append(p.pending, note)
		return false
	}
	return true
}

// markRecvReady flips the ready flag and hands the buffered
// announcements to the caller in one critical section. The buffer is
// drained exactly once; later announcements bypass it entirely.
func (p *Participant) markRecvReady() (pending []producerNote, flushed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.recvReady {
		return nil, false
	}
	p.recvReady = true
	pending = p.pending
	p.pending = nil
	return pending, true
}

// close runs the teardown cascade against the engine: consumers first,
// then producers, then both transports. Engine errors are logged only;
// teardown always completes. Safe at any negotiation stage, including
// before any transport exists. Reports the ids of the producers it
// closed so the caller can drop peers' consumers of them; closed is
// false when the cascade already ran.
func (p *Participant) close(ctx context.Context, logger *log.Logger) (producerIDs []string, closed bool) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, false
	}
	p.closed = true
	consumers := p.consumers
	producers := p.producers
	sendTransport := p.sendTransport
	recvTransport := p.recvTransport
	p.consumers = make(map[string]engine.Consumer)
	p.producers = make(map[string]engine.Producer)
	p.sendTransport = nil
	p.recvTransport = nil
	p.pending = nil
	p.mu.Unlock()

	for id, consumer := range consumers {
		if err := consumer.Close(ctx); err != nil {
			logger.Warn("failed to close consumer",
				log.String("connId", p.connID),
				log.String("consumerId", id),
				log.Error(err),
			)
		}
	}
	for id, producer := range producers {
		producerIDs = append(producerIDs, id)
		if err := producer.Close(ctx); err != nil {
			logger.Warn("failed to close producer",
				log.String("connId", p.connID),
				log.String("producerId", id),
				log.Error(err),
			)
		}
	}
	for _, t := range []engine.Transport{sendTransport, recvTransport} {
		if t == nil {
			continue
		}
		if err := t.Close(ctx); err != nil {
			logger.Warn("failed to close transport",
				log.String("connId", p.connID),
				log.String("transportId", t.ID()),
				log.Error(err),
			)
		}
	}
	return producerIDs, true
}
