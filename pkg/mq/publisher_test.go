package mq

import (
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	msg, err := Encode("booking.confirmed", map[string]string{"booking_id": "b-1"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, "booking.confirmed", msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var body map[string]string
	require.NoError(t, json.Unmarshal(msg.Body, &body))
	assert.Equal(t, "b-1", body["booking_id"])
}

func TestEncodeRejectsUnsupportedValues(t *testing.T) {
	_, err := Encode("booking.confirmed", make(chan int))
	assert.Error(t, err)
}
