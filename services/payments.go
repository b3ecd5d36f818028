// services/payments.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"stake-match-system/utils"
)

// PaymentGateway moves value between players and the service. Pull draws a
// player's stake in, Push pays out. Both are all-or-nothing: a non-nil error
// means no value moved, and the caller must abort whatever it was doing.
type PaymentGateway interface {
	Pull(player string, amount uint64, reference string) error
	Push(player string, amount uint64, reference string) error
}

// TreasuryClient is the HTTP payment gateway against the treasury service.
type TreasuryClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewTreasuryClient() *TreasuryClient {
	baseURL := os.Getenv("TREASURY_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("TREASURY_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("STAKE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("STAKE_SERVICE_TOKEN environment variable is required for treasury calls")
	}

	return &TreasuryClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.HTTPClient,
	}
}

func (c *TreasuryClient) transfer(direction, player string, amount uint64, reference string) error {
	body, err := json.Marshal(map[string]any{
		"direction": direction,
		"account":   player,
		"amount":    amount,
		"reference": reference,
	})
	if err != nil {
		return fmt.Errorf("failed to encode transfer request: %w", err)
	}

	req, err := http.NewRequest("POST", c.BaseURL+"/api/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call treasury service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("treasury service returned status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func (c *TreasuryClient) Pull(player string, amount uint64, reference string) error {
	return c.transfer("pull", player, amount, reference)
}

func (c *TreasuryClient) Push(player string, amount uint64, reference string) error {
	return c.transfer("push", player, amount, reference)
}
