package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/apoorvlathey/invite-markets-sub002/internal/config"
)

// WebhookSender posts sale notifications to a Discord webhook.
type WebhookSender struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewWebhookSender creates a Discord webhook sender.
func NewWebhookSender(cfg *config.Config) Sender {
	return &WebhookSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title  string         `json:"title"`
	Color  int            `json:"color"`
	Fields []discordField `json:"fields"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func (s *WebhookSender) Notify(ctx context.Context, event SaleEvent) error {
	if s.cfg.DiscordWebhookURL == "" {
		log.Println("WARN: Discord webhook URL not configured. Skipping sale notification.")
		return nil
	}

	msg := discordMessage{
		Embeds: []discordEmbed{{
			Title: fmt.Sprintf("New sale: %s", event.AppName),
			Color: 0x57F287,
			Fields: []discordField{
				{Name: "App", Value: event.AppName, Inline: true},
				{Name: "Price", Value: fmt.Sprintf("%.2f USDC", event.PriceUsdc), Inline: true},
				{Name: "Chain", Value: fmt.Sprintf("%d", event.ChainID), Inline: true},
				{Name: "Seller", Value: event.SellerAddress, Inline: false},
				{Name: "Buyer", Value: event.BuyerAddress, Inline: false},
			},
		}},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Discord message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.DiscordWebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build Discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("Discord webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("Discord webhook returned status %d", resp.StatusCode)
	}
	return nil
}
