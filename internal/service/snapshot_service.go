package service

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	lru "github.com/hashicorp/golang-lru/v2"

	"stylii-be/internal/dto"
	"stylii-be/internal/pkg/logger"
)

const (
	SnapshotTopic = "design.session.snapshot"

	snapshotModule = "SnapshotService"
	sessionIDKey   = "session_id"
	seqKey         = "seq"

	// trackedSessions bounds the per-session sequence memory of the consumer.
	trackedSessions = 4096
)

// SessionBroadcaster pushes raw messages to the clients of one session.
type SessionBroadcaster interface {
	Send(ctx context.Context, sessionID string, data []byte)
}

// ISnapshotPublisher queues session snapshots for websocket delivery. seq must
// increase with every snapshot of a session.
type ISnapshotPublisher interface {
	PublishSnapshot(sessionID string, seq uint64, snapshot *dto.DesignSessionResponse) error
}

type snapshotPublisher struct {
	topic     string
	publisher message.Publisher
}

func NewSnapshotPublisher(topic string, publisher message.Publisher) ISnapshotPublisher {
	return &snapshotPublisher{topic: topic, publisher: publisher}
}

func (p *snapshotPublisher) PublishSnapshot(sessionID string, seq uint64, snapshot *dto.DesignSessionResponse) error {
	payload, err := json.Marshal(dto.SessionEventMessage{
		Type:      "snapshot",
		SessionId: sessionID,
		Seq:       seq,
		Data:      snapshot,
	})
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(sessionIDKey, sessionID)
	msg.Metadata.Set(seqKey, strconv.FormatUint(seq, 10))
	return p.publisher.Publish(p.topic, msg)
}

// ISnapshotConsumer forwards queued snapshots to connected clients. The bus
// may reorder deliveries, so a snapshot older than one already forwarded for
// the same session is dropped.
type ISnapshotConsumer interface {
	Consume(ctx context.Context) error
}

type snapshotConsumer struct {
	subscriber  message.Subscriber
	topic       string
	broadcaster SessionBroadcaster
	logger      logger.ILogger

	mu     sync.Mutex
	latest *lru.Cache[string, uint64]
}

func NewSnapshotConsumer(subscriber message.Subscriber, topic string, broadcaster SessionBroadcaster, log logger.ILogger) ISnapshotConsumer {
	latest, _ := lru.New[string, uint64](trackedSessions)
	return &snapshotConsumer{
		subscriber:  subscriber,
		topic:       topic,
		broadcaster: broadcaster,
		logger:      log,
		latest:      latest,
	}
}

func (c *snapshotConsumer) Consume(ctx context.Context) error {
	messages, err := c.subscriber.Subscribe(ctx, c.topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			c.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (c *snapshotConsumer) processMessage(ctx context.Context, msg *message.Message) {
	sessionID := msg.Metadata.Get(sessionIDKey)
	if sessionID == "" {
		c.logger.Warn(snapshotModule, "Dropping snapshot without session id", map[string]interface{}{
			"message_id": msg.UUID,
		})
		msg.Ack()
		return
	}

	if !c.advance(sessionID, msg.Metadata.Get(seqKey)) {
		msg.Ack()
		return
	}

	c.broadcaster.Send(ctx, sessionID, msg.Payload)
	msg.Ack()
}

// advance records seq as the newest snapshot of the session. It reports false
// for a snapshot that is not newer than the last one forwarded. Messages
// without a sequence are always forwarded.
func (c *snapshotConsumer) advance(sessionID, rawSeq string) bool {
	seq, err := strconv.ParseUint(rawSeq, 10, 64)
	if err != nil {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.latest.Get(sessionID); ok && seq <= last {
		return false
	}
	c.latest.Add(sessionID, seq)
	return true
}
