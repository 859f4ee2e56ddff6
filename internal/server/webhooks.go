package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"stringer/internal/domain"
	"stringer/internal/engine"
)

const (
	dispatchInterval = 2 * time.Second
	dispatchBatch    = 100
	deliveryTimeout  = 5 * time.Second
)

// startWebhookDispatcher polls the timeline and posts new events to every
// active subscription. Each subscription keeps its own persisted cursor, so
// deliveries survive restarts and a slow endpoint never blocks the others.
func startWebhookDispatcher(e engine.Engine) {
	client := &http.Client{Timeout: deliveryTimeout}
	go func() {
		ticker := time.NewTicker(dispatchInterval)
		defer ticker.Stop()
		for range ticker.C {
			dispatchOnce(context.Background(), e, client)
		}
	}()
}

func dispatchOnce(ctx context.Context, e engine.Engine, client *http.Client) {
	subs, err := e.Repo.ListWebhookSubscriptions(ctx, true)
	if err != nil {
		log.Printf("[webhooks] list subscriptions: %v", err)
		return
	}
	for _, sub := range subs {
		cursor, err := e.Repo.WebhookCursor(ctx, sub.ID)
		if err != nil {
			log.Printf("[webhooks] cursor for %s: %v", sub.ID, err)
			continue
		}
		events, err := e.Repo.TimelineEventsSince(ctx, cursor, dispatchBatch)
		if err != nil {
			log.Printf("[webhooks] events for %s: %v", sub.ID, err)
			continue
		}
		for _, ev := range events {
			if err := postEvent(ctx, client, sub, ev); err != nil {
				// Stop here; retry from the same cursor next tick.
				log.Printf("[webhooks] deliver %d to %s: %v", ev.ID, sub.URL, err)
				break
			}
			cursor = ev.ID
			if err := e.Repo.SetWebhookCursor(ctx, sub.ID, cursor); err != nil {
				log.Printf("[webhooks] advance cursor for %s: %v", sub.ID, err)
				break
			}
		}
	}
}

func postEvent(ctx context.Context, client *http.Client, sub domain.WebhookSubscription, ev domain.TimelineEvent) error {
	payload, err := json.Marshal(map[string]any{
		"event_id":      ev.ID,
		"assignment_id": ev.AssignmentID,
		"status":        ev.Status,
		"label":         ev.Label,
		"description":   ev.Description,
		"actor_id":      ev.ActorID,
		"timestamp":     ev.Timestamp,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Stringer-Event", ev.Status)
	req.Header.Set("X-Stringer-Event-ID", strconv.FormatInt(ev.ID, 10))
	req.Header.Set("X-Stringer-Delivery", uuid.NewString())
	if sub.Secret != "" {
		req.Header.Set("X-Stringer-Secret", sub.Secret)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &deliveryError{status: resp.StatusCode}
	}
	return nil
}

type deliveryError struct {
	status int
}

func (e *deliveryError) Error() string {
	return "endpoint returned " + strconv.Itoa(e.status)
}
