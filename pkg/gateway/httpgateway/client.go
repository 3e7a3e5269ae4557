// Package httpgateway talks to the notification, customer-profile and
// promotion services over HTTP/JSON.
package httpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dukex/cartflow/pkg/conditions"
	"github.com/dukex/cartflow/pkg/dispatcher"
	"github.com/dukex/cartflow/pkg/facts"
	"github.com/dukex/cartflow/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

// Client implements dispatcher.Sender, dispatcher.CustomerProfiles,
// dispatcher.Promotions and facts.Provider against one base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway responded %d: %s", e.StatusCode, e.Body)
}

type sendRequest struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
	Reference string `json:"reference"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

func (c *Client) Send(ctx context.Context, channel models.Channel, recipient string, content dispatcher.Content) (string, error) {
	var resp sendResponse

	err := c.do(ctx, http.MethodPost, "/notifications/"+url.PathEscape(string(channel)), sendRequest{
		Recipient: recipient,
		Subject:   content.Subject,
		Body:      content.Body,
		Reference: content.Reference,
	}, &resp)
	if err != nil {
		return "", classify(err)
	}

	return resp.MessageID, nil
}

type tagsRequest struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

func (c *Client) UpdateTags(ctx context.Context, customerID string, add, remove []string) error {
	err := c.do(ctx, http.MethodPost, "/customers/"+url.PathEscape(customerID)+"/tags", tagsRequest{Add: add, Remove: remove}, nil)
	if err != nil {
		return classify(err)
	}

	return nil
}

type discountRequest struct {
	models.DiscountConfig
	Reference string `json:"reference"`
}

type discountResponse struct {
	Code string `json:"code"`
}

func (c *Client) ApplyDiscount(ctx context.Context, customerID string, discount models.DiscountConfig, reference string) (string, error) {
	var resp discountResponse

	err := c.do(ctx, http.MethodPost, "/customers/"+url.PathEscape(customerID)+"/discounts",
		discountRequest{DiscountConfig: discount, Reference: reference}, &resp)
	if err != nil {
		return "", classify(err)
	}

	return resp.Code, nil
}

// Facts fetches current customer facts. Any failure is reported as facts.ErrUnavailable.
func (c *Client) Facts(ctx context.Context, subject models.Subject) (conditions.Facts, error) {
	if subject.CustomerID == "" {
		return conditions.Facts{}, nil
	}

	var resp conditions.Facts

	err := c.do(ctx, http.MethodGet, "/customers/"+url.PathEscape(subject.CustomerID)+"/facts", nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", facts.ErrUnavailable, err)
	}

	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// classify marks client errors other than timeouts and rate limits as permanent.
func classify(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) &&
		statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 &&
		statusErr.StatusCode != http.StatusRequestTimeout &&
		statusErr.StatusCode != http.StatusTooManyRequests {
		return dispatcher.Permanent("request rejected", err)
	}

	return err
}
