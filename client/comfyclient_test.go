package client

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/stablekeeper/graphapi"
	"github.com/richinsley/stablekeeper/metadata"
	"github.com/richinsley/stablekeeper/metadata/metadatatest"
)

const executedMessage = `{"type": "executed", "data": {"node": "9", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}`

// newComfyServer serves /view from images and pushes messages to every websocket client.
func newComfyServer(t *testing.T, images map[string][]byte, messages ...string) (*httptest.Server, string, int) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		data, ok := images[r.URL.Query().Get("filename")]
		if !ok || r.URL.Query().Get("type") != "output" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(data)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("clientId") == "" {
			http.Error(w, "missing client id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, m := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}
		// wait for the client to hang up
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	host, portStr, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return server, host, port
}

func workflowImage(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("../graphapi/testdata/simple_workflow.json")
	require.NoError(t, err)
	return metadatatest.WorkflowPNG(string(data))
}

func TestOnMessageExecuted(t *testing.T) {
	_, host, port := newComfyServer(t, map[string][]byte{"ComfyUI_00046_.png": workflowImage(t)})

	var got []*ImagePrompts
	c := NewComfyClient(host, port, &ComfyClientCallbacks{
		PromptsAvailable: func(_ *ComfyClient, ip *ImagePrompts) {
			got = append(got, ip)
		},
	})
	c.OnMessage(executedMessage)

	require.Len(t, got, 1)
	ip := got[0]
	require.NoError(t, ip.Err)
	assert.Equal(t, "ed986d60-2a27-4d28-8871-2fdb36582902", ip.PromptID)
	assert.Equal(t, "ComfyUI_00046_.png", ip.Image.Filename)
	require.Len(t, ip.Outputs, 1)
	assert.Equal(t, 9, ip.Outputs[0].NodeID)
	assert.Equal(t, &graphapi.Prompts{
		Positive: []string{"beautiful scenery nature glass bottle landscape, , purple galaxy bottle,"},
		Negative: []string{"text, watermark"},
	}, ip.Outputs[0].Prompts)
}

func TestOnMessageExecutedFallbacks(t *testing.T) {
	images := map[string][]byte{
		"ComfyUI_00046_.png": workflowImage(t),
		"plain.png":          metadatatest.BuildPNG(),
	}
	_, host, port := newComfyServer(t, images)

	var got []*ImagePrompts
	c := NewComfyClient(host, port, &ComfyClientCallbacks{
		PromptsAvailable: func(_ *ComfyClient, ip *ImagePrompts) {
			got = append(got, ip)
		},
	})

	// a node inside a subgraph is not in the top level workflow
	c.OnMessage(`{"type": "executed", "data": {"node": "57:8", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "p1"}}`)
	// no workflow chunk, missing file, non image output, text output
	c.OnMessage(`{"type": "executed", "data": {"node": "9", "output": {
		"images": [{"filename": "plain.png", "subfolder": "", "type": "output"}, {"filename": "gone.png", "subfolder": "", "type": "output"}],
		"gifs": [{"filename": "clip.webp", "subfolder": "", "type": "output"}],
		"text": ["hello"]
	}, "prompt_id": "p2"}}`)

	require.Len(t, got, 3)
	require.NoError(t, got[0].Err)
	require.Len(t, got[0].Outputs, 1)
	assert.Equal(t, 9, got[0].Outputs[0].NodeID)
	assert.NotNil(t, got[0].Outputs[0].Prompts)

	byFile := map[string]*ImagePrompts{}
	for _, ip := range got[1:] {
		byFile[ip.Image.Filename] = ip
	}
	assert.ErrorIs(t, byFile["plain.png"].Err, metadata.ErrNoWorkflow)
	assert.ErrorContains(t, byFile["gone.png"].Err, "404")
}

func TestOnMessageStatus(t *testing.T) {
	var counts []int
	c := NewComfyClient("localhost", 8188, &ComfyClientCallbacks{
		ClientQueueCountChanged: func(_ *ComfyClient, n int) {
			counts = append(counts, n)
		},
	})
	c.OnMessage(`{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 3}}}}`)
	c.OnMessage(`{"type": "progress", "data": {"value": 1, "max": 20}}`)
	c.OnMessage(`not json`)

	assert.Equal(t, []int{3}, counts)
	assert.Equal(t, 3, c.QueueCount())
}

func TestQueueCountWhileWatching(t *testing.T) {
	status := `{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 2}}}}`
	_, host, port := newComfyServer(t, nil, status)

	updated := make(chan int, 1)
	c := NewComfyClient(host, port, &ComfyClientCallbacks{
		ClientQueueCountChanged: func(_ *ComfyClient, n int) {
			updated <- n
		},
	})
	require.NoError(t, c.Watch(5))
	defer c.Close()

	// read concurrently with the websocket goroutine updating it
	deadline := time.After(5 * time.Second)
	for c.QueueCount() != 2 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for the queue count")
		case <-time.After(time.Millisecond):
		}
	}
	assert.Equal(t, 2, <-updated)
}

func TestExecutedNodeID(t *testing.T) {
	for node, want := range map[string]int{"19": 19, "57:8": 57} {
		m := WSMessageDataExecuted{Node: node}
		id, ok := m.NodeID()
		assert.True(t, ok)
		assert.Equal(t, want, id)
	}
	_, ok := (&WSMessageDataExecuted{Node: "abc"}).NodeID()
	assert.False(t, ok)
}

func TestWatch(t *testing.T) {
	status := `{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 0}}}}`
	_, host, port := newComfyServer(t, map[string][]byte{"ComfyUI_00046_.png": workflowImage(t)}, status, executedMessage)

	received := make(chan *ImagePrompts, 1)
	c := NewComfyClient(host, port, &ComfyClientCallbacks{
		PromptsAvailable: func(_ *ComfyClient, ip *ImagePrompts) {
			received <- ip
		},
	})
	require.NoError(t, c.Watch(5))

	select {
	case ip := <-received:
		require.NoError(t, ip.Err)
		require.Len(t, ip.Outputs, 1)
		assert.Equal(t, []string{"text, watermark"}, ip.Outputs[0].Prompts.Negative)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for prompts")
	}

	require.NoError(t, c.Close())
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not shut down")
	}
}

func TestWatchGivesUp(t *testing.T) {
	ws := NewWebSocketConnection("ws://127.0.0.1:1/ws", nil)
	ws.MaxRetry = 1
	ws.BaseDelay = time.Millisecond
	ws.MaxDelay = time.Millisecond

	assert.Error(t, ws.ConnectWithManager(-1))
	assert.False(t, ws.IsConnected)
}
