package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"
)

// PushSender delivers an order event to a recipient's device. It tries
// the WebSocket session first and falls back to the push provider's HTTP
// endpoint with a bearer key.
type PushSender struct {
	Endpoint string
	Key      string
	Client   *http.Client
	WS       *WSRegistry
}

func NewPushSender(endpoint, key string, ws *WSRegistry) *PushSender {
	return &PushSender{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}, WS: ws}
}

func (p *PushSender) Deliver(ev OrderEvent) error {
	if p.WS != nil {
		if err := p.WS.Deliver(ev.RecipientID, ev); err == nil {
			return nil
		}
	}
	if p.Endpoint == "" {
		return ErrNoSession
	}
	body := map[string]any{
		"to": ev.RecipientID,
		"notification": map[string]any{
			"title": "Vai no Pulo",
			"body":  ev.Message,
		},
		"data": map[string]any{
			"type":     ev.Type,
			"order_id": ev.OrderID,
			"status":   ev.Status,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &PushError{Status: resp.StatusCode}
	}
	return nil
}

type PushError struct{ Status int }

func (e *PushError) Error() string { return "push endpoint rejected notification" }
