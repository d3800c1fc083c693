// internal/clients/catalog_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"libracatalog/internal/catalog"
	"libracatalog/internal/eventstore"
)

var defaultHTTPClient = &http.Client{
	Timeout: 10 * time.Second,
	Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// CatalogClient talks to a remote catalog service. It satisfies catalog.Service.
type CatalogClient struct {
	baseURL    string
	httpClient *http.Client
}

var _ catalog.Service = (*CatalogClient)(nil)

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: defaultHTTPClient,
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *CatalogClient) WithHTTPClient(hc *http.Client) *CatalogClient {
	c.httpClient = hc
	return c
}

func (c *CatalogClient) AddItem(ctx context.Context, title, category, creator string, kind catalog.Kind) (*catalog.Item, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %d", catalog.ErrInvalidKind, int(kind))
	}
	req := catalog.AddItemRequest{Title: title, Category: category, Creator: creator, Kind: kind}

	var item catalog.Item
	if err := c.do(ctx, http.MethodPost, "/items", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *CatalogClient) GetItem(ctx context.Context, id int) (*catalog.Item, error) {
	var item catalog.Item
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/items/%d", id), nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *CatalogClient) CheckoutItem(ctx context.Context, id int, daysToDue int) (*catalog.Item, error) {
	req := catalog.CheckoutRequest{Days: &daysToDue}

	var item catalog.Item
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/checkout", id), req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *CatalogClient) ReturnItem(ctx context.Context, id int) (*catalog.Receipt, error) {
	var receipt catalog.Receipt
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/items/%d/return", id), nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *CatalogClient) Search(ctx context.Context, term string) ([]*catalog.Item, error) {
	var items []*catalog.Item
	if err := c.do(ctx, http.MethodGet, "/search?q="+url.QueryEscape(term), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *CatalogClient) ListAvailable(ctx context.Context) ([]*catalog.Item, error) {
	var items []*catalog.Item
	if err := c.do(ctx, http.MethodGet, "/items?status=available", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *CatalogClient) ListCheckedOut(ctx context.Context) ([]*catalog.Item, error) {
	var items []*catalog.Item
	if err := c.do(ctx, http.MethodGet, "/items?status=checked-out", nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *CatalogClient) History(ctx context.Context, id int) ([]eventstore.Event, error) {
	var events []eventstore.Event
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/items/%d/events", id), nil, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// do sends one request and decodes the JSON response into out. Error bodies
// carrying a catalog error code come back as the matching catalog error.
func (c *CatalogClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp catalog.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}
		if sentinel := catalog.ErrorForCode(errResp.Code); sentinel != nil {
			return fmt.Errorf("%s: %w", errResp.Error, sentinel)
		}
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, errResp.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
