package client

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
)

type WSStatusMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"Data"`
}

func (sm *WSStatusMessage) UnmarshalJSON(b []byte) error {
	// Unmarshal into an anonymous type equivalent to StatusMessage
	// to avoid infinite recursion
	var temp struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	sm.Type = temp.Type

	// Only the messages we act on are decoded
	switch sm.Type {
	case "status":
		sm.Data = &WSMessageDataStatus{}
	case "executed":
		sm.Data = &WSMessageDataExecuted{}
	default:
		sm.Data = nil
	}

	if sm.Data != nil {
		if err := json.Unmarshal(temp.Data, sm.Data); err != nil {
			return err
		}
	}

	return nil
}

type WSMessageDataStatus struct {
	Status struct {
		ExecInfo struct {
			QueueRemaining int `json:"queue_remaining"`
		} `json:"exec_info"`
	} `json:"status"`
}

/*
{"type": "status", "data": {"status": {"exec_info": {"queue_remaining": 1}}}}
*/

type WSMessageDataExecuted struct {
	// Node is the id of the executed node. Nodes inside subgraphs use compound ids such as "57:8".
	Node     string                  `json:"node"`
	Output   map[string][]DataOutput `json:"-"`
	PromptID string                  `json:"prompt_id"`
}

func (mde *WSMessageDataExecuted) UnmarshalJSON(b []byte) error {
	var temp struct {
		Node      string                     `json:"node"`
		OutputRaw map[string]json.RawMessage `json:"output"`
		PromptID  string                     `json:"prompt_id"`
	}
	if err := json.Unmarshal(b, &temp); err != nil {
		return err
	}

	mde.Node = temp.Node
	mde.PromptID = temp.PromptID
	mde.Output = make(map[string][]DataOutput)

	// outputs are lists of file records, but custom nodes also emit strings and numbers
	for k, raw := range temp.OutputRaw {
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			continue
		}
		for _, e := range entries {
			var out DataOutput
			if err := json.Unmarshal(e, &out); err == nil && out.Filename != "" && out.Type != "" {
				mde.Output[k] = append(mde.Output[k], out)
				continue
			}
			var text string
			if err := json.Unmarshal(e, &text); err == nil {
				mde.Output[k] = append(mde.Output[k], DataOutput{Type: "text", Text: text})
				continue
			}
			slog.Warn("WSMessageDataExecuted output entry of unknown type", "output", k, "entry", string(e))
		}
	}

	return nil
}

// NodeID returns the id of the executed node, or of the subgraph instance that contains it.
func (mde *WSMessageDataExecuted) NodeID() (int, bool) {
	id, _, _ := strings.Cut(mde.Node, ":")
	i, err := strconv.Atoi(id)
	if err != nil {
		return 0, false
	}
	return i, true
}

/*
{"type": "executed", "data": {"node": "19", "output": {"images": [{"filename": "ComfyUI_00046_.png", "subfolder": "", "type": "output"}]}, "prompt_id": "ed986d60-2a27-4d28-8871-2fdb36582902"}}
*/
