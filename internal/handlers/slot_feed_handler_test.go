package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/parkmy/slot-reservation-backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotFeedBroadcastsStatusChanges(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	hub := NewSlotFeedHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/feed", hub.ServeWS)
	server := httptest.NewServer(router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/feed"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	slot := models.Slot{
		ID:        uuid.New(),
		Number:    "A1",
		Status:    models.SlotStatusOccupied,
		UpdatedAt: testNow,
	}
	hub.SlotStatusChanged(slot)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg SlotStatusMessage
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, "slot.status", msg.Type)
	assert.Equal(t, slot.ID.String(), msg.SlotID)
	assert.Equal(t, "A1", msg.Number)
	assert.Equal(t, models.SlotStatusOccupied, msg.Status)

	// Disconnect is noticed by the reader goroutine
	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSlotFeedDropsWhenQueueFull(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	// Not running: nothing drains the queue
	hub := NewSlotFeedHub(logger)
	for i := 0; i < feedBufferSize+10; i++ {
		hub.SlotStatusChanged(models.Slot{ID: uuid.New(), Status: models.SlotStatusAvailable})
	}

	assert.Len(t, hub.broadcast, feedBufferSize)
}
