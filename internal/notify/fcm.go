package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// FCMSink posts events to an FCM HTTPv1-style endpoint using a server key
// or oauth token. The device token is resolved by the caller and carried in
// the recipient id for this channel.
type FCMSink struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMSink(endpoint, key string) *FCMSink {
	return &FCMSink{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMSink) Notify(deviceToken string, ev Event) error {
	body := map[string]interface{}{"message": map[string]interface{}{
		"token": deviceToken,
		"data": map[string]interface{}{
			"kind":        ev.Kind,
			"task_id":     ev.TaskID,
			"donation_id": ev.DonationID,
			"message":     ev.Message,
		},
	}}
	b, _ := json.Marshal(body)
	req, _ := http.NewRequest("POST", f.Endpoint, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	_, err := f.Client.Do(req)
	return err
}
