package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sseEvent is one parsed server-sent event
type sseEvent struct {
	name string
	data string
}

func readEvent(t *testing.T, reader *bufio.Reader) sseEvent {
	t.Helper()
	var event sseEvent
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			event.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if event.name != "" || event.data != "" {
				return event
			}
		}
	}
}

func TestStreamDeliversPublishedMessages(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/v1/tenants/tenant-a/stream", nil)
	require.NoError(t, err)
	req.Header.Set("X-Principal-ID", "bob")
	req.Header.Set("X-Principal-Tenant", "tenant-a")
	req.Header.Set("X-Principal-Role", "member")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)

	connected := readEvent(t, reader)
	require.Equal(t, "connected", connected.name)
	var admission struct {
		ConnectionID string `json:"connection_id"`
		TenantID     string `json:"tenant_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(connected.data), &admission))
	assert.NotEmpty(t, admission.ConnectionID)
	assert.Equal(t, "tenant-a", admission.TenantID)

	// Publish from a second connection in the same tenant
	sender := f.connect(t, "tenant-a", "alice", "member")
	pub, err := http.NewRequest(http.MethodPost, server.URL+"/v1/tenants/tenant-a/messages", bytes.NewReader(frame(t, "hello stream")))
	require.NoError(t, err)
	pub.Header.Set("X-Connection-ID", sender.ConnectionID)
	pubResp, err := http.DefaultClient.Do(pub)
	require.NoError(t, err)
	pubResp.Body.Close()
	require.Equal(t, http.StatusOK, pubResp.StatusCode)

	delivered := readEvent(t, reader)
	require.Equal(t, "message", delivered.name)
	var msg MessageView
	require.NoError(t, json.Unmarshal([]byte(delivered.data), &msg))
	assert.Equal(t, "tenant-a", msg.TenantID)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, uint64(1), msg.SequenceNumber)
	assert.Equal(t, []byte("hello stream"), msg.Payload)

	// Dropping the request closes the connection server side
	cancel()
	require.Eventually(t, func() bool {
		_, err := f.hub.Connection(admission.ConnectionID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStreamRejectsBeforeAdmission(t *testing.T) {
	f := newFixture(t)
	server := httptest.NewServer(f.router)
	defer server.Close()

	// Missing principal headers
	resp, err := http.Get(server.URL + "/v1/tenants/tenant-a/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
