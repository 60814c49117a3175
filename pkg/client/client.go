// Package client provides the typed HTTP client for the location service
// and the master-routed factory that keeps calls pointed at whichever
// machine currently holds mastership.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"locstore/pkg/api"
	"locstore/pkg/model"
)

const DefaultTimeout = 10 * time.Second

// StatusError carries a non-200 response from the location service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Client is a typed SDK for one location service instance.
type Client struct {
	address    model.MachineLocation
	httpClient *http.Client
}

// New returns a client bound to the node at address (host:port).
func New(address model.MachineLocation, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		address:    address,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Address returns the machine this client is bound to.
func (c *Client) Address() model.MachineLocation { return c.address }

// GetBulk resolves the known locations for each requested hash.
func (c *Client) GetBulk(ctx context.Context, hashes []model.ContentHash) ([]model.Entry, error) {
	var resp api.GetBulkResponse
	err := c.post(ctx, "/locations/get", api.GetBulkRequest{Hashes: hashes}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

// Register records machine as a holder of the given entries.
func (c *Client) Register(ctx context.Context, machine model.MachineLocation, entries []model.Entry) error {
	return c.post(ctx, "/locations/register", api.RegisterRequest{Machine: machine, Entries: entries}, nil)
}

// Touch refreshes the last-access time for the given hashes on machine.
func (c *Client) Touch(ctx context.Context, machine model.MachineLocation, hashes []model.ContentHash) error {
	return c.post(ctx, "/locations/touch", api.TouchRequest{Machine: machine, Hashes: hashes}, nil)
}

// Unregister removes the given hashes from the global store.
func (c *Client) Unregister(ctx context.Context, hashes []model.ContentHash) error {
	return c.post(ctx, "/locations/unregister", api.UnregisterRequest{Hashes: hashes}, nil)
}

// Status reports the node's identity and perceived election role.
func (c *Client) Status(ctx context.Context) (api.Status, error) {
	var status api.Status
	body, err := c.sendRequest(ctx, http.MethodGet, "/status", nil)
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return status, fmt.Errorf("decode status: %w", err)
	}
	return status, nil
}

func (c *Client) post(ctx context.Context, path string, req, resp any) error {
	encoded, err := json.Marshal(req)
	if err != nil {
		return err
	}
	body, err := c.sendRequest(ctx, http.MethodPost, path, encoded)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) sendRequest(ctx context.Context, verb, path string, body []byte) ([]byte, error) {
	url := "http://" + string(c.address) + path
	request, err := http.NewRequestWithContext(ctx, verb, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: string(responseBody)}
	}
	return responseBody, nil
}
