package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/ordersync/internal/model"
	"github.com/roach88/ordersync/internal/normalize"
	"github.com/roach88/ordersync/internal/syncerr"
)

// DefaultTimeout bounds a single HTTP round trip.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response is read for its message.
const maxErrorBody = 4 << 10

// Client calls the order service for one tenant.
//
// Thread-safety: Client is safe for concurrent use.
type Client struct {
	baseURL string
	tenant  string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithToken sends a bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for tenant rooted at baseURL.
func New(baseURL, tenant string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tenant:  tenant,
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs r. A non-empty idempotencyKey is sent as the
// Idempotency-Key header and, for creates, as the body's localId so the
// authoritative order can be matched to its placeholder. The returned
// order is nil when the response carries none.
func (c *Client) Send(ctx context.Context, r Request, idempotencyKey string) (*model.Order, error) {
	method, path, err := route(r)
	if err != nil {
		return nil, err
	}

	body := r.Payload
	if r.Kind == model.WriteCreateOrder && idempotencyKey != "" {
		body = make(map[string]any, len(r.Payload)+1)
		for k, v := range r.Payload {
			body[k] = v
		}
		body[KeyLocalID] = idempotencyKey
	}
	if method == http.MethodDelete {
		body = nil
	}

	var raw any
	if err := c.do(ctx, method, path, body, idempotencyKey, &raw); err != nil {
		return nil, err
	}
	return orderFrom(raw), nil
}

// Submit sends a queued write. It satisfies queue.Submitter.
func (c *Client) Submit(ctx context.Context, w model.QueuedWrite) (*model.Order, error) {
	return c.Send(ctx, Request{Kind: w.Kind, OrderID: w.OrderID, Payload: w.Payload}, w.LocalID)
}

// Reprint asks the backend to print the kitchen ticket again.
func (c *Client) Reprint(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodPost, orderPath(orderID, "reprint"), nil, "", nil)
}

// GenerateScanToPay creates a payment link for a check.
func (c *Client) GenerateScanToPay(ctx context.Context, orderID, checkID string) (ScanToPaySession, error) {
	var s ScanToPaySession
	err := c.do(ctx, http.MethodPost, orderPath(orderID, "checks", checkID, "scan-to-pay"), nil, "", &s)
	return s, err
}

// SubmitScanToPay settles a check through its payment link.
func (c *Client) SubmitScanToPay(ctx context.Context, orderID, checkID string, p ScanToPayPayment) (*model.Order, error) {
	var raw any
	if err := c.do(ctx, http.MethodPost, orderPath(orderID, "checks", checkID, "scan-to-pay", "submit"), p, "", &raw); err != nil {
		return nil, err
	}
	return orderFrom(raw), nil
}

// ListActiveOrders fetches every open order. The response may be a bare
// array or wrapped under "orders" or "data".
func (c *Client) ListActiveOrders(ctx context.Context) ([]map[string]any, error) {
	var raw any
	if err := c.do(ctx, http.MethodGet, "/orders?active=true", nil, "", &raw); err != nil {
		return nil, err
	}
	if m, ok := raw.(map[string]any); ok {
		if v, ok := m["orders"]; ok {
			raw = v
		} else if v, ok := m["data"]; ok {
			raw = v
		}
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, syncerr.WriteFailure("unexpected active orders response", http.StatusOK, nil)
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// Poll satisfies transport.Poller. The tenant is fixed at construction.
func (c *Client) Poll(ctx context.Context, tenantID string) ([]map[string]any, error) {
	if tenantID != c.tenant {
		return nil, fmt.Errorf("poll for tenant %q on client for %q", tenantID, c.tenant)
	}
	return c.ListActiveOrders(ctx)
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", c.tenant)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return syncerr.WriteFailure(fmt.Sprintf("%s %s", method, path), 0, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api response",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
	)

	if resp.StatusCode == http.StatusConflict {
		return syncerr.WriteConflict(errorMessage(resp.Body, method, path), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return syncerr.WriteFailure(errorMessage(resp.Body, method, path), resp.StatusCode, nil)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil && err != io.EOF {
		return syncerr.WriteFailure(fmt.Sprintf("decode %s %s", method, path), resp.StatusCode, err)
	}
	return nil
}

// errorMessage pulls "message" or "error" out of a JSON error body and
// falls back to the request line.
func errorMessage(body io.Reader, method, path string) string {
	fallback := fmt.Sprintf("%s %s", method, path)
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil || len(data) == 0 {
		return fallback
	}
	var m map[string]any
	if json.Unmarshal(data, &m) == nil {
		for _, k := range []string{"message", "error"} {
			if s, ok := m[k].(string); ok && s != "" {
				return fmt.Sprintf("%s: %s", fallback, s)
			}
		}
	}
	return fallback
}

func orderFrom(raw any) *model.Order {
	m, ok := raw.(map[string]any)
	if !ok || !normalize.HasOrderBody(m) {
		return nil
	}
	o := normalize.Order(m)
	if o.ID == "" {
		return nil
	}
	return &o
}

func route(r Request) (method, path string, err error) {
	param := func(key string) (string, error) {
		s, _ := r.Payload[key].(string)
		if s == "" {
			return "", fmt.Errorf("%s request missing %s", r.Kind, key)
		}
		return s, nil
	}
	if r.Kind != model.WriteCreateOrder && r.Kind != model.WriteBulkStatus && r.OrderID == "" {
		return "", "", fmt.Errorf("%s request missing order id", r.Kind)
	}

	switch r.Kind {
	case model.WriteCreateOrder:
		return http.MethodPost, "/orders", nil
	case model.WriteUpdateStatus:
		return http.MethodPatch, orderPath(r.OrderID, "status"), nil
	case model.WriteFireCourse, model.WriteHoldCourse:
		id, err := param(KeyCourseID)
		if err != nil {
			return "", "", err
		}
		action := "fire"
		if r.Kind == model.WriteHoldCourse {
			action = "hold"
		}
		return http.MethodPost, orderPath(r.OrderID, "courses", id, action), nil
	case model.WriteAddCourse:
		return http.MethodPost, orderPath(r.OrderID, "courses"), nil
	case model.WriteRemoveCourse:
		id, err := param(KeyCourseID)
		if err != nil {
			return "", "", err
		}
		return http.MethodDelete, orderPath(r.OrderID, "courses", id), nil
	case model.WriteAssignCourse:
		id, err := param(KeySelectionID)
		if err != nil {
			return "", "", err
		}
		return http.MethodPut, orderPath(r.OrderID, "selections", id, "course"), nil
	case model.WriteFireItemNow:
		id, err := param(KeySelectionID)
		if err != nil {
			return "", "", err
		}
		return http.MethodPost, orderPath(r.OrderID, "selections", id, "fire"), nil
	case model.WriteBulkStatus:
		return http.MethodPost, "/orders/bulk-status", nil
	case model.WriteAddNote:
		return http.MethodPost, orderPath(r.OrderID, "notes"), nil
	case model.WriteHoldThrottle:
		return http.MethodPost, orderPath(r.OrderID, "throttle", "hold"), nil
	case model.WriteReleaseThrottle:
		return http.MethodPost, orderPath(r.OrderID, "throttle", "release"), nil
	default:
		return "", "", fmt.Errorf("unknown write kind %q", r.Kind)
	}
}

func orderPath(orderID string, parts ...string) string {
	var b strings.Builder
	b.WriteString("/orders/")
	b.WriteString(url.PathEscape(orderID))
	for _, p := range parts {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}
