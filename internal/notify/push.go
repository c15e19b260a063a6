package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// PushSink tries a live WebSocket session first and falls back to posting
// the event to a push-provider HTTP endpoint.
type PushSink struct {
	Endpoint string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushSink(endpoint string, ws *WSRegistry) *PushSink {
	return &PushSink{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushSink) Notify(recipientID string, ev Event) error {
	if p.WS != nil {
		if err := p.WS.Notify(recipientID, ev); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return nil
	}
	b, _ := json.Marshal(map[string]interface{}{"recipient": recipientID, "event": ev})
	_, err := p.Client.Post(p.Endpoint, "application/json", bytes.NewReader(b))
	return err
}
