package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafka "github.com/segmentio/kafka-go"

	"depthwatch/config"
	"depthwatch/logger"
	"depthwatch/models"
)

// kafkaBatchTimeout bounds how long a single record waits for a batch to fill.
const kafkaBatchTimeout = 10 * time.Millisecond

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends every analysis record as JSON keyed by symbol.
type KafkaPublisher struct {
	topic   string
	timeout time.Duration
	writer  messageWriter
	log     *logger.Log
}

func NewKafkaPublisher(cfg config.KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	kp := newKafkaPublisher(cfg, &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: kafkaBatchTimeout,
	})
	kp.log.WithComponent("kafka_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Debug("kafka publisher initialized")
	return kp, nil
}

func newKafkaPublisher(cfg config.KafkaConfig, w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{
		topic:   cfg.Topic,
		timeout: cfg.WriteTimeout,
		writer:  w,
		log:     logger.GetLogger(),
	}
}

func (kp *KafkaPublisher) Name() string { return "kafka" }

func (kp *KafkaPublisher) Publish(ctx context.Context, rec models.AnalysisRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal analysis record: %w", err)
	}

	if kp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, kp.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(rec.Symbol),
		Value: data,
		Time:  rec.Time(),
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write kafka message to %s: %w", kp.topic, err)
	}
	return nil
}

func (kp *KafkaPublisher) Close() error {
	if kp.writer == nil {
		return nil
	}
	return kp.writer.Close()
}
