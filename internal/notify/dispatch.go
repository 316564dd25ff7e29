package notify

import "context"

// Dispatcher routes an order event to its recipient: a live WebSocket
// session when one is connected, otherwise the fallback publisher (the
// event stream feeding the push notifier). Implements Publisher so the
// order service needs no knowledge of the split.
type Dispatcher struct {
	WS       *WSRegistry
	Fallback Publisher // optional; without it offline recipients are dropped
}

func (d *Dispatcher) PublishOrderEvent(ctx context.Context, ev OrderEvent) error {
	if d.WS != nil {
		if err := d.WS.Deliver(ev.RecipientID, ev); err == nil {
			return nil
		}
	}
	if d.Fallback == nil {
		return ErrNoSession
	}
	return d.Fallback.PublishOrderEvent(ctx, ev)
}

func (d *Dispatcher) Close() error {
	if d.Fallback == nil {
		return nil
	}
	return d.Fallback.Close()
}
