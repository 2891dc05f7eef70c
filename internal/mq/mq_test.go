package mq

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"
	"github.com/shopfront/apiserver/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithoutBackendDisablesMQ(t *testing.T) {
	m, err := Open(context.Background(), config.MQConfig{})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "carrier-pigeon"})
	assert.ErrorContains(t, err, `unknown mq backend "carrier-pigeon"`)
}

func TestNewKafkaClientValidatesConfig(t *testing.T) {
	_, err := NewKafkaClient(config.KafkaConfig{Brokers: []string{" "}, GroupID: "g"})
	assert.ErrorContains(t, err, "brokers are required")

	_, err = NewKafkaClient(config.KafkaConfig{Brokers: []string{"localhost:9092"}})
	assert.ErrorContains(t, err, "group id is required")

	client, err := NewKafkaClient(config.KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"})
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9092"}, client.brokers)
	require.NoError(t, client.Close())
}

func TestKafkaMessageMapsKeyAndHeaders(t *testing.T) {
	msg := kafkaMessage(kafka.Message{
		Topic:     "orders",
		Partition: 2,
		Offset:    41,
		Key:       []byte("order-1"),
		Value:     []byte(`{}`),
		Headers: []kafka.Header{
			{Key: headerMessageID, Value: []byte("abc")},
			{Key: "event_type", Value: []byte("order.placed")},
		},
	})

	assert.Equal(t, "abc", msg.ID)
	assert.Equal(t, []byte(`{}`), msg.Data)
	assert.Equal(t, map[string]string{
		AttrKey:      "order-1",
		"event_type": "order.placed",
	}, msg.Attributes)

	anonymous := kafkaMessage(kafka.Message{Topic: "orders", Partition: 0, Offset: 7})
	assert.Equal(t, "orders/0/7", anonymous.ID)
}

func TestDeliveryAttributes(t *testing.T) {
	attrs := deliveryAttributes(amqp.Delivery{
		ContentType: "application/json",
		Type:        "order.placed",
		Headers:     amqp.Table{"order_id": "42", "attempt": int32(2)},
	})

	assert.Equal(t, map[string]string{
		AttrContentType: "application/json",
		AttrType:        "order.placed",
		"order_id":      "42",
		"attempt":       "2",
	}, attrs)
}
