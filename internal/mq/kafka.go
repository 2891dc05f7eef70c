package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopfront/apiserver/config"
)

const (
	// AttrKey selects the partition key of a Kafka message. Messages with
	// the same key keep their relative order.
	AttrKey = "key"

	headerMessageID = "message_id"

	kafkaMaxAttempts = 3
)

// KafkaClient publishes to topics named after the channel and consumes them
// as one consumer group.
type KafkaClient struct {
	writer  *kafka.Writer
	brokers []string
	groupID string

	mu      sync.Mutex
	readers []*kafka.Reader
}

// NewKafkaClient constructs a Kafka client from config. No connection is
// made until the first publish or subscribe.
func NewKafkaClient(cfg config.KafkaConfig) (*KafkaClient, error) {
	var brokers []string
	for _, broker := range cfg.Brokers {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka group id is required")
	}

	return &KafkaClient{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		brokers: brokers,
		groupID: cfg.GroupID,
	}, nil
}

// Publish writes a message to the topic named channel. The AttrKey attribute
// becomes the message key; the rest travel as headers.
func (k *KafkaClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("kafka channel is required")
	}

	messageID := newMessageID()
	msg := kafka.Message{
		Topic:   channel,
		Value:   data,
		Headers: []kafka.Header{{Key: headerMessageID, Value: []byte(messageID)}},
	}
	for key, value := range attrs {
		if key == AttrKey {
			msg.Key = []byte(value)
			continue
		}
		msg.Headers = append(msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return "", err
	}
	return messageID, nil
}

// Subscribe reads the topic as part of the configured consumer group. The
// offset of a message is committed once its handler succeeds, or after
// kafkaMaxAttempts failed attempts, in which case the message is dropped.
func (k *KafkaClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("kafka channel is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.brokers,
		Topic:          channel,
		GroupID:        k.groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
	})
	k.track(reader)
	defer k.untrack(reader)

	logger := zerolog.Ctx(ctx)
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("fetch from %s: %w", channel, err)
		}

		message := kafkaMessage(msg)
		for attempt := 1; ; attempt++ {
			err := handler(ctx, message)
			if err == nil {
				break
			}
			if attempt >= kafkaMaxAttempts {
				logger.Error().Err(err).Str("message_id", message.ID).Str("topic", channel).Msg("dropping message after repeated failures")
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("commit offset on %s: %w", channel, err)
		}
	}
}

// Close flushes the writer and closes any active readers.
func (k *KafkaClient) Close() error {
	k.mu.Lock()
	readers := k.readers
	k.readers = nil
	k.mu.Unlock()

	errs := []error{k.writer.Close()}
	for _, reader := range readers {
		errs = append(errs, reader.Close())
	}
	return errors.Join(errs...)
}

func (k *KafkaClient) track(reader *kafka.Reader) {
	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()
}

func (k *KafkaClient) untrack(reader *kafka.Reader) {
	k.mu.Lock()
	for i, r := range k.readers {
		if r == reader {
			k.readers = append(k.readers[:i], k.readers[i+1:]...)
			break
		}
	}
	k.mu.Unlock()
	_ = reader.Close()
}

func kafkaMessage(msg kafka.Message) Message {
	message := Message{
		ID:         fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset),
		Data:       msg.Value,
		Attributes: make(map[string]string, len(msg.Headers)+1),
	}
	if len(msg.Key) > 0 {
		message.Attributes[AttrKey] = string(msg.Key)
	}
	for _, header := range msg.Headers {
		if header.Key == headerMessageID {
			message.ID = string(header.Value)
			continue
		}
		message.Attributes[header.Key] = string(header.Value)
	}
	return message
}
