package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	Replicas        int
	DuplicateWindow time.Duration // Window for duplicate detection

	// consumer side
	ConsumerName      string
	MaxDeliver        int
	AckWait           time.Duration
	MaxAckPending     int
	InactiveThreshold time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:               nats.DefaultURL,
		StreamName:        "GAME_CHANGES",
		SubjectPrefix:     "game.changes",
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
		MaxAge:            time.Hour,
		Replicas:          1,
		DuplicateWindow:   2 * time.Minute,
		ConsumerName:      "game-gateway",
		MaxDeliver:        5,
		AckWait:           30 * time.Second,
		MaxAckPending:     1000,
		InactiveThreshold: 5 * time.Minute,
	}
}

// envelope is the wire format on the stream.
type envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	SessionID string          `json:"sessionId"`
	Table     Table           `json:"table,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func subjectFor(prefix string, event ChangeEvent) string {
	table := string(event.Table)
	if table == "" {
		table = "refresh"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, table, event.SessionID)
}

// Connect opens a NATS connection with JetStream.
func Connect(cfg JetStreamConfig) (*nats.Conn, jetstream.JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return nc, js, nil
}

// JetStreamPublisher relays change events onto a JetStream stream.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, js, err := Connect(cfg)
	if err != nil {
		return nil, err
	}

	p := &JetStreamPublisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) streamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Game session and player row changes",
		Subjects:    []string{fmt.Sprintf("%s.>", p.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		Storage:     jetstream.MemoryStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := p.streamConfig()

	stream, err := p.js.Stream(ctx, sc.Name)
	if err != nil {
		if _, err = p.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if _, err = p.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("updated JetStream stream")
	}
	return nil
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event ChangeEvent) error {
	subject := subjectFor(p.config.SubjectPrefix, event)

	data, err := json.Marshal(envelope{
		EventID:   event.ID.String(),
		EventType: string(event.Type),
		SessionID: event.SessionID.String(),
		Table:     event.Table,
		Timestamp: event.OccurredAt,
		Payload:   event.Record,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(event.Type)},
			"Session-ID": []string{event.SessionID.String()},
			"Event-ID":   []string{event.ID.String()},
		},
	},
		jetstream.WithMsgID(event.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", event.ID.String()).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")
	return nil
}

// IsConnected reports whether the NATS connection is currently up.
func (p *JetStreamPublisher) IsConnected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.Replicas == b.Replicas &&
		a.Duplicates == b.Duplicates
}

// JetStreamSource consumes relayed changes and dispatches them into a Feed.
type JetStreamSource struct {
	feed     *Feed
	nc       *nats.Conn
	js       jetstream.JetStream
	consumer jetstream.Consumer
	config   JetStreamConfig
}

// NewJetStreamSource creates a per-instance consumer so every gateway sees every change.
func NewJetStreamSource(feed *Feed, cfg JetStreamConfig) (*JetStreamSource, error) {
	nc, js, err := Connect(cfg)
	if err != nil {
		return nil, err
	}
	cfg.ConsumerName = fmt.Sprintf("%s-%s", cfg.ConsumerName, uuid.New().String()[:8])

	s := &JetStreamSource{feed: feed, nc: nc, js: js, config: cfg}
	if err := s.ensureConsumer(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}
	return s, nil
}

func (s *JetStreamSource) ensureConsumer(ctx context.Context) error {
	stream, err := s.js.Stream(ctx, s.config.StreamName)
	if err != nil {
		return fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              s.config.ConsumerName,
		Description:       "Game gateway change consumer",
		FilterSubject:     fmt.Sprintf("%s.>", s.config.SubjectPrefix),
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		MaxDeliver:        s.config.MaxDeliver,
		AckWait:           s.config.AckWait,
		MaxAckPending:     s.config.MaxAckPending,
		InactiveThreshold: s.config.InactiveThreshold,
		ReplayPolicy:      jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer: %w", err)
	}
	log.Info().
		Str("consumer", s.config.ConsumerName).
		Str("stream", s.config.StreamName).
		Msg("created JetStream consumer")

	s.consumer = consumer
	return nil
}

// Start consumes until ctx is done.
func (s *JetStreamSource) Start(ctx context.Context) error {
	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := s.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("change consumer shutting down")
			return nil
		case msg := <-messageCh:
			if err := s.processMessage(ctx, msg); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to process message")
				// malformed messages will never parse; drop them
				if termErr := msg.Term(); termErr != nil {
					log.Error().Err(termErr).Msg("failed to TERM message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (s *JetStreamSource) processMessage(ctx context.Context, msg jetstream.Msg) error {
	event, err := decodeEnvelope(msg.Data())
	if err != nil {
		return err
	}
	s.feed.Dispatch(ctx, event)
	return nil
}

func decodeEnvelope(data []byte) (ChangeEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal event envelope: %w", err)
	}
	sessionID, err := uuid.Parse(env.SessionID)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("parse session ID: %w", err)
	}
	eventID, err := uuid.Parse(env.EventID)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("parse event ID: %w", err)
	}
	return ChangeEvent{
		ID:         eventID,
		Table:      env.Table,
		Type:       ChangeType(env.EventType),
		SessionID:  sessionID,
		Record:     env.Payload,
		OccurredAt: env.Timestamp,
	}, nil
}

func (s *JetStreamSource) Close() error {
	if s.nc != nil {
		s.nc.Close()
	}
	return nil
}
