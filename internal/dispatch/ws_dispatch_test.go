package dispatch

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSRegistryBroadcast(t *testing.T) {
	reg := NewWSRegistry(nil)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c1, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c1.Close()
	c2, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer c2.Close()

	require.Eventually(t, func() bool { return reg.Len() == 2 }, time.Second, 10*time.Millisecond)

	n := Notification{ID: "n-1", Channel: ChannelDashboard, Event: EventAssigned, AssignmentID: "ASN1"}
	require.NoError(t, reg.Notify(context.Background(), n))

	for _, c := range []*websocket.Conn{c1, c2} {
		_ = c.SetReadDeadline(time.Now().Add(time.Second))
		var got Notification
		require.NoError(t, c.ReadJSON(&got))
		assert.Equal(t, n, got)
	}
}

func TestWSRegistryDropsClosedSessions(t *testing.T) {
	reg := NewWSRegistry(nil)
	srv := httptest.NewServer(reg)
	defer srv.Close()

	c, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 10*time.Millisecond)
	assert.NoError(t, reg.Notify(context.Background(), Notification{ID: "n-2"}))
}
