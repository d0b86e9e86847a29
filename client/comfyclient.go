package client

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/richinsley/stablekeeper/graphapi"
	"github.com/richinsley/stablekeeper/library"
	"github.com/richinsley/stablekeeper/metadata"
)

type ComfyClientCallbacks struct {
	ClientQueueCountChanged func(*ComfyClient, int)
	PromptsAvailable        func(*ComfyClient, *ImagePrompts)
}

// ComfyClient watches a ComfyUI server and reports the prompts of every image it saves
type ComfyClient struct {
	serverBaseAddress string
	serverAddress     string
	serverPort        int
	clientid          string
	queuecount        atomic.Int64
	callbacks         *ComfyClientCallbacks
	roles             *graphapi.Roles
	webSocket         *WebSocketConnection
	httpclient        *http.Client
}

// NewComfyClient creates a new instance of a client for the server at server_address:server_port
func NewComfyClient(server_address string, server_port int, callbacks *ComfyClientCallbacks) *ComfyClient {
	sbaseaddr := server_address + ":" + strconv.Itoa(server_port)
	cid := uuid.New().String()
	retv := &ComfyClient{
		serverBaseAddress: sbaseaddr,
		serverAddress:     server_address,
		serverPort:        server_port,
		clientid:          cid,
		callbacks:         callbacks,
		roles:             graphapi.DefaultRoles(),
		httpclient:        &http.Client{},
	}
	return retv
}

// ClientID returns the unique client ID for the connection to the ComfyUI backend
func (c *ComfyClient) ClientID() string {
	return c.clientid
}

// QueueCount returns the last queue size reported by the server. It is safe to call while watching.
func (c *ComfyClient) QueueCount() int {
	return int(c.queuecount.Load())
}

// set the underlying http client
func (c *ComfyClient) SetHttpClient(client *http.Client) {
	c.httpclient = client
}

// SetRoles replaces the node roles used to find samplers and prompts
func (c *ComfyClient) SetRoles(roles *graphapi.Roles) {
	c.roles = roles
}

// Watch connects the websocket and starts delivering callbacks.
// timeoutSeconds follows WebSocketConnection.ConnectWithManager.
func (c *ComfyClient) Watch(timeoutSeconds int) error {
	u := url.URL{
		Scheme:   "ws",
		Host:     c.serverBaseAddress,
		Path:     "/ws",
		RawQuery: url.Values{"clientId": {c.clientid}}.Encode(),
	}
	c.webSocket = NewWebSocketConnection(u.String(), c)
	return c.webSocket.ConnectWithManager(timeoutSeconds)
}

// Done is signalled once the websocket connection has ended
func (c *ComfyClient) Done() <-chan bool {
	if c.webSocket == nil {
		return nil
	}
	return c.webSocket.ConnectionDone
}

func (c *ComfyClient) Close() error {
	if c.webSocket == nil {
		return nil
	}
	return c.webSocket.Close()
}

// OnMessage processes each message received from the websocket connection to ComfyUI.
func (c *ComfyClient) OnMessage(msg string) {
	message := &WSStatusMessage{}
	err := json.Unmarshal([]byte(msg), &message)
	if err != nil {
		slog.Error("Deserializing Status Message:", "error", err)
		return
	}

	switch message.Type {
	case "status":
		s := message.Data.(*WSMessageDataStatus)
		c.queuecount.Store(int64(s.Status.ExecInfo.QueueRemaining))
		if c.callbacks != nil && c.callbacks.ClientQueueCountChanged != nil {
			c.callbacks.ClientQueueCountChanged(c, s.Status.ExecInfo.QueueRemaining)
		}
	case "executed":
		s := message.Data.(*WSMessageDataExecuted)
		for _, images := range s.Output {
			for _, image := range images {
				if !strings.EqualFold(path.Ext(image.Filename), ".png") {
					continue
				}
				ip := c.promptsForImage(s, image)
				if c.callbacks != nil && c.callbacks.PromptsAvailable != nil {
					c.callbacks.PromptsAvailable(c, ip)
				}
			}
		}
	default:
		slog.Debug("Ignoring message", "type", message.Type)
	}
}

func (c *ComfyClient) promptsForImage(s *WSMessageDataExecuted, image DataOutput) *ImagePrompts {
	ip := &ImagePrompts{PromptID: s.PromptID, NodeID: s.Node, Image: image}

	data, err := c.GetImage(image)
	if err != nil {
		ip.Err = err
		return ip
	}
	text, err := metadata.ExtractWorkflow(bytes.NewReader(data))
	if err != nil {
		ip.Err = err
		return ip
	}
	workflow, err := graphapi.NewWorkflowFromJsonString(text)
	if err != nil {
		ip.Err = err
		return ip
	}

	// prefer the node that saved the image; nodes inside subgraphs are not in the
	// top level workflow, so those fall back to every output node
	var nodes []*graphapi.Node
	if id, ok := s.NodeID(); ok && workflow.GetNodeById(id) != nil {
		nodes = []*graphapi.Node{workflow.GetNodeById(id)}
	} else {
		nodes = workflow.FindOutputs(c.roles)
	}

	var errs []error
	for _, n := range nodes {
		prompts, err := workflow.FindPromptsForNode(n, c.roles)
		if err != nil {
			errs = append(errs, err)
		}
		ip.Outputs = append(ip.Outputs, library.OutputPrompts{NodeID: n.ID, Title: n.DisplayTitle(), Prompts: prompts})
	}
	ip.Err = errors.Join(errs...)
	return ip
}

// GetImage downloads an output file from the server
func (c *ComfyClient) GetImage(image_data DataOutput) ([]byte, error) {
	params := url.Values{}
	params.Add("filename", image_data.Filename)
	params.Add("subfolder", image_data.Subfolder)
	params.Add("type", image_data.Type)
	resp, err := c.httpclient.Get(fmt.Sprintf("http://%s/view?%s", c.serverBaseAddress, params.Encode()))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /view %s: %s", image_data.Filename, resp.Status)
	}
	return io.ReadAll(resp.Body)
}
