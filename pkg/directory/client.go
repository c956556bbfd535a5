package directory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to a directory server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a directory client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListRelays retrieves all registered relays.
func (c *Client) ListRelays() ([]RelayInfo, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/relays")
	if err != nil {
		return nil, fmt.Errorf("directory: list relays: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("directory: list relays: %s - %s", resp.Status, string(body))
	}

	var result struct {
		Relays []RelayInfo `json:"relays"`
		Count  int         `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("directory: decode response: %w", err)
	}
	return result.Relays, nil
}

// Register announces a relay to the directory.
func (c *Client) Register(info RelayInfo) error {
	body, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("directory: encode registration: %w", err)
	}

	resp, err := c.httpClient.Post(c.baseURL+"/relays/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("directory: register: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("directory: register: %s - %s", resp.Status, string(respBody))
	}
	return nil
}
