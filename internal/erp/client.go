package erp

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
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ClientConfig groups connection settings for the ERP Service Layer.
type ClientConfig struct {
	BaseURL       string
	CompanyDB     string
	Username      string
	Password      string
	ReadTimeout   time.Duration
	LookupTimeout time.Duration
	SubmitTimeout time.Duration
}

// Client talks to the ERP Service Layer. Reads go through a retrying
// transport; invoice posting uses a plain client because it is not
// idempotent.
type Client struct {
	cfg    ClientConfig
	reads  *retryablehttp.Client
	writes *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	session string
}

// NewClient constructs a Client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 30 * time.Second
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 60 * time.Second
	}

	reads := retryablehttp.NewClient()
	reads.RetryMax = 2
	reads.RetryWaitMin = 200 * time.Millisecond
	reads.RetryWaitMax = 2 * time.Second
	reads.Logger = nil

	return &Client{
		cfg:    cfg,
		reads:  reads,
		writes: &http.Client{},
		logger: logger,
	}
}

// Configured reports whether connection settings are present. When false the
// caller runs in offline mode and must not attempt remote calls.
func (c *Client) Configured() bool {
	return c.cfg.BaseURL != "" && c.cfg.Username != "" && c.cfg.Password != ""
}

// Authenticate establishes a Service Layer session. Safe to call when a
// session already exists.
func (c *Client) Authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != "" {
		return nil
	}
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"CompanyDB": c.cfg.CompanyDB,
		"UserName":  c.cfg.Username,
		"Password":  c.cfg.Password,
	})

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/b1s/v1/Login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("erp: build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.reads.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.remoteError(resp)
	}

	var payload struct {
		SessionID string `json:"SessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("erp: decode login response: %w", err)
	}
	if payload.SessionID == "" {
		return &RemoteError{Status: resp.StatusCode, Message: "login returned no session"}
	}
	c.session = payload.SessionID
	return nil
}

// ListBusinessPartners returns customer-type business partners.
func (c *Client) ListBusinessPartners(ctx context.Context) ([]BusinessPartner, error) {
	query := url.Values{}
	query.Set("$select", "CardCode,CardName")
	query.Set("$filter", "CardType eq 'cCustomer'")
	endpoint := c.cfg.BaseURL + "/b1s/v1/BusinessPartners?" + query.Encode()

	data, err := c.readJSON(ctx, http.MethodGet, endpoint, nil, c.cfg.ReadTimeout)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value []struct {
			CardCode string `json:"CardCode"`
			CardName string `json:"CardName"`
		} `json:"value"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("erp: decode business partners: %w", err)
	}

	partners := make([]BusinessPartner, 0, len(payload.Value))
	for _, v := range payload.Value {
		partners = append(partners, BusinessPartner{Code: v.CardCode, Name: v.CardName})
	}
	return partners, nil
}

// ResolveSerial looks a serial number up via the Service Layer SQL query
// endpoint and normalizes the result.
func (c *Client) ResolveSerial(ctx context.Context, serial string) (ResolvedSerial, error) {
	body, _ := json.Marshal(map[string]string{
		"ParamList": fmt.Sprintf("serial_number='%s'", strings.ReplaceAll(serial, "'", "''")),
	})
	endpoint := c.cfg.BaseURL + "/b1s/v1/SQLQueries('Invoice_creation')/List"

	data, err := c.readJSON(ctx, http.MethodPost, endpoint, body, c.cfg.LookupTimeout)
	if err != nil {
		return ResolvedSerial{}, err
	}

	var payload struct {
		Value []map[string]any `json:"value"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ResolvedSerial{}, fmt.Errorf("erp: decode serial lookup: %w", err)
	}
	if len(payload.Value) == 0 {
		return ResolvedSerial{}, ErrSerialNotFound
	}

	return normalizeSerial(serial, payload.Value[0]), nil
}

// SubmitInvoice posts an invoice document. It returns the acknowledgement
// and the raw response body so callers can persist the snapshot.
func (c *Client) SubmitInvoice(ctx context.Context, payload InvoicePayload) (PostedInvoice, []byte, error) {
	if !c.Configured() {
		return PostedInvoice{}, nil, fmt.Errorf("%w: connection not configured", ErrUnavailable)
	}
	if err := c.Authenticate(ctx); err != nil {
		return PostedInvoice{}, nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return PostedInvoice{}, nil, fmt.Errorf("erp: encode invoice: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/b1s/v1/Invoices", bytes.NewReader(body))
	if err != nil {
		return PostedInvoice{}, nil, fmt.Errorf("erp: build invoice request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", "B1SESSION="+c.currentSession())

	resp, err := c.writes.Do(req)
	if err != nil {
		return PostedInvoice{}, nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PostedInvoice{}, nil, fmt.Errorf("erp: read invoice response: %w", err)
	}

	if resp.StatusCode != http.StatusCreated {
		if resp.StatusCode == http.StatusUnauthorized {
			c.dropSession()
		}
		return PostedInvoice{}, raw, remoteErrorFromBody(resp.StatusCode, raw)
	}

	var ack struct {
		DocEntry int64       `json:"DocEntry"`
		DocNum   json.Number `json:"DocNum"`
		DocTotal float64     `json:"DocTotal"`
	}
	if err := json.Unmarshal(raw, &ack); err != nil {
		return PostedInvoice{}, raw, fmt.Errorf("erp: decode invoice response: %w", err)
	}

	return PostedInvoice{
		DocEntry: ack.DocEntry,
		DocNum:   ack.DocNum.String(),
		DocTotal: ack.DocTotal,
	}, raw, nil
}

// readJSON performs an authenticated read call, retrying the session once on
// a 401.
func (c *Client) readJSON(ctx context.Context, method, endpoint string, body []byte, timeout time.Duration) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("%w: connection not configured", ErrUnavailable)
	}
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}

	data, status, err := c.doRead(ctx, method, endpoint, body, timeout)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		// Session expired remotely; log in again and retry once.
		c.dropSession()
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		data, status, err = c.doRead(ctx, method, endpoint, body, timeout)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, remoteErrorFromBody(status, data)
	}
	return data, nil
}

func (c *Client) doRead(ctx context.Context, method, endpoint string, body []byte, timeout time.Duration) ([]byte, int, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(callCtx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("erp: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", "odata.maxpagesize=0")
	req.Header.Set("Cookie", "B1SESSION="+c.currentSession())

	resp, err := c.reads.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("erp: read response: %w", err)
	}
	return data, resp.StatusCode, nil
}

func (c *Client) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) dropSession() {
	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
}

func (c *Client) remoteError(resp *http.Response) error {
	data, _ := io.ReadAll(resp.Body)
	return remoteErrorFromBody(resp.StatusCode, data)
}

// remoteErrorFromBody extracts the ERP's error message, falling back to the
// raw body text.
func remoteErrorFromBody(status int, body []byte) error {
	var payload struct {
		Error struct {
			Message struct {
				Value string `json:"value"`
			} `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message.Value != "" {
		return &RemoteError{Status: status, Message: payload.Error.Message.Value}
	}
	return &RemoteError{Status: status, Message: strings.TrimSpace(string(body))}
}

// normalizeSerial reconciles the ERP's inconsistent key casing into one
// record.
func normalizeSerial(serial string, row map[string]any) ResolvedSerial {
	resolved := ResolvedSerial{
		Serial:        pickString(row, "DistNumber"),
		ItemCode:      pickString(row, "ItemCode"),
		ItemName:      pickString(row, "ItemName"),
		WarehouseCode: pickString(row, "WhsCode"),
		WarehouseName: pickString(row, "WhsName"),
		BranchID:      pickInt(row, "BPLid", "BPLId", "BPL_ID"),
		BranchName:    pickString(row, "BPLName"),
		CustomerCode:  pickString(row, "CardCode"),
		CustomerName:  pickString(row, "CardName"),
	}
	if resolved.Serial == "" {
		resolved.Serial = serial
	}
	return resolved
}

func pickString(row map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := lookupFold(row, key); ok {
			switch val := v.(type) {
			case string:
				if val != "" {
					return val
				}
			case json.Number:
				return val.String()
			case float64:
				return strings.TrimSuffix(fmt.Sprintf("%v", val), ".0")
			}
		}
	}
	return ""
}

func pickInt(row map[string]any, keys ...string) int64 {
	for _, key := range keys {
		if v, ok := lookupFold(row, key); ok {
			switch val := v.(type) {
			case float64:
				return int64(val)
			case json.Number:
				if n, err := val.Int64(); err == nil {
					return n
				}
			case string:
				var n int64
				if _, err := fmt.Sscan(val, &n); err == nil {
					return n
				}
			}
		}
	}
	return 0
}

func lookupFold(row map[string]any, key string) (any, bool) {
	if v, ok := row[key]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
