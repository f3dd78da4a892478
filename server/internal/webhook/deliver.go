package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/obsidianstack/deltacache/server/internal/config"
)

// deliver sends p to every target. Errors are logged and recorded but do
// not affect the caller.
func (n *Notifier) deliver(targets []config.WebhookConfig, p *Payload) {
	for _, wh := range targets {
		url := wh.URL()
		if url == "" {
			continue
		}
		if err := n.limiter.Wait(n.ctx); err != nil {
			slog.Warn("webhook: delivery abandoned", "type", wh.Type, "id", p.ID, "err", err)
			return
		}

		var body []byte
		switch wh.Type {
		case "slack":
			body = slackBody(p)
		case "teams":
			body = teamsBody(p)
		case "http":
			body, _ = json.Marshal(p)
		default:
			slog.Warn("webhook: unknown type, skipping", "type", wh.Type)
			continue
		}

		d := Delivery{ID: p.ID, Target: wh.Type, Cache: p.Cache, Seq: p.Seq, At: time.Now().UTC()}
		if err := n.post(url, p.ID, body); err != nil {
			d.Error = err.Error()
			slog.Error("webhook: delivery failed",
				"type", wh.Type,
				"id", p.ID,
				"err", err,
			)
		} else {
			d.OK = true
			slog.Debug("webhook: delivered",
				"type", wh.Type,
				"id", p.ID,
				"seq", p.Seq,
			)
		}
		n.record(d)
	}
}

func slackBody(p *Payload) []byte {
	body, _ := json.Marshal(map[string]string{"text": summary(p)})
	return body
}

func teamsBody(p *Payload) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": "00D4FF",
		"summary":    p.Cache,
		"title":      fmt.Sprintf("deltacache: %s changed", p.Cache),
		"text":       summary(p),
	})
	return body
}

func (n *Notifier) post(url, id string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-ID", id)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}
