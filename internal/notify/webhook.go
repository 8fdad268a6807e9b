package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"votewatch/internal/calibrate"
	"votewatch/internal/events"
)

// Notifier posts a short message to a configured webhook whenever the
// rank-1 candidate changes. It is a no-op when no webhook is configured.
type Notifier struct {
	url        string
	client     *http.Client
	lastLeader string
}

func New(webhookURL string) *Notifier {
	return &Notifier{
		url:    webhookURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run consumes cycle events until the context is cancelled.
func (n *Notifier) Run(ctx context.Context, ch <-chan events.CycleEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			n.handle(ev)
		}
	}
}

func (n *Notifier) handle(ev events.CycleEvent) {
	leader := calibrate.Leader(ev.Results)
	if leader.Name == "" {
		return
	}
	key := calibrate.Key(leader.Name)
	if key == n.lastLeader {
		return
	}
	first := n.lastLeader == ""
	n.lastLeader = key
	if first {
		// Startup observation, not a lead change.
		return
	}
	text := fmt.Sprintf("%s takes the lead with %s votes (%.2f%%)",
		leader.Name, humanize.Comma(leader.Votes), leader.Percent)
	if err := n.send(text); err != nil {
		log.Printf("notify: webhook failed: %v", err)
	}
}

func (n *Notifier) send(text string) error {
	if n.url == "" {
		return nil
	}
	payload := map[string]string{"text": text}
	buf, _ := json.Marshal(payload)
	req, err := http.NewRequest(http.MethodPost, n.url, bytes.NewBuffer(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}
