// services/reserve.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"

	"stake-match-system/utils"
)

// ReserveVault is the external yield-bearing reserve the ledger pools stakes
// into. The reserve accepts supplies, pays out withdrawals, and reports a
// total balance that grows on its own as interest accrues. Calls either fully
// succeed or fail; the reserve never partially fills a withdrawal.
type ReserveVault interface {
	Supply(amount uint64) error
	Withdraw(amount uint64) (uint64, error)
	Balance() (uint64, error)
}

// LendingPoolClient talks to a lending-market service over HTTP.
type LendingPoolClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewLendingPoolClient() *LendingPoolClient {
	baseURL := os.Getenv("RESERVE_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("RESERVE_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("STAKE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("STAKE_SERVICE_TOKEN environment variable is required for reserve calls")
	}

	return &LendingPoolClient{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: utils.HTTPClient,
	}
}

func (c *LendingPoolClient) post(path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode reserve request: %w", err)
	}

	req, err := http.NewRequest("POST", c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create reserve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call reserve service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("reserve service returned status %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode reserve response: %w", err)
		}
	}
	return nil
}

func (c *LendingPoolClient) Supply(amount uint64) error {
	return c.post("/api/v1/reserve/supply", map[string]uint64{"amount": amount}, nil)
}

func (c *LendingPoolClient) Withdraw(amount uint64) (uint64, error) {
	var res struct {
		Amount uint64 `json:"amount"`
	}
	if err := c.post("/api/v1/reserve/withdraw", map[string]uint64{"amount": amount}, &res); err != nil {
		return 0, err
	}
	return res.Amount, nil
}

func (c *LendingPoolClient) Balance() (uint64, error) {
	req, err := http.NewRequest("GET", c.BaseURL+"/api/v1/reserve/balance", nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create reserve request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to call reserve service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("reserve service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var res struct {
		Balance uint64 `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return 0, fmt.Errorf("failed to decode reserve response: %w", err)
	}
	return res.Balance, nil
}

// SimulatedLendingPool is an in-process reserve for local development and
// tests. Interest does not accrue on its own; call Accrue to add yield.
type SimulatedLendingPool struct {
	mu      sync.Mutex
	balance uint64
}

func NewSimulatedLendingPool() *SimulatedLendingPool {
	return &SimulatedLendingPool{}
}

func (p *SimulatedLendingPool) Supply(amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance += amount
	return nil
}

func (p *SimulatedLendingPool) Withdraw(amount uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount > p.balance {
		return 0, fmt.Errorf("reserve liquidity too low: have %d, want %d", p.balance, amount)
	}
	p.balance -= amount
	return amount, nil
}

func (p *SimulatedLendingPool) Balance() (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance, nil
}

// Accrue credits interest to the pool, as a real lending market would over time.
func (p *SimulatedLendingPool) Accrue(amount uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balance += amount
}
