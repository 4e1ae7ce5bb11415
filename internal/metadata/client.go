package metadata

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultTimeout bounds each request to the remote store.
	DefaultTimeout = 10 * time.Second

	metadataPath = "/metadata"
)

// ClientConfig configures the remote metadata store client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the remote metadata store over HTTP. Requests carry the
// X-API-Key, X-Timestamp and X-Signature headers when an API key is set.
type Client struct {
	cfg  ClientConfig
	http *http.Client
	now  func() time.Time
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// PutRequest is the body of POST /metadata.
type PutRequest struct {
	Address string `json:"address"`

	// ReplacesWalletID allows the wallet id and privacy address to change
	// when it names the stored wallet.
	ReplacesWalletID string `json:"replacesWalletId,omitempty"`

	Record
}

// Get fetches the record for address.
func (c *Client) Get(ctx context.Context, address string) (*Record, error) {
	endpoint := c.cfg.BaseURL + metadataPath + "?address=" +
		url.QueryEscape(strings.ToLower(address))

	body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("%w: GET returned status %d: %s",
			ErrRemoteUnavailable, status, strings.TrimSpace(string(body)))
	}

	var rec Record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: malformed record: %v",
			ErrRemoteUnavailable, err)
	}

	return &rec, nil
}

// Put writes rec for address.
func (c *Client) Put(ctx context.Context, address string, rec *Record) error {
	return c.put(ctx, PutRequest{
		Address: strings.ToLower(address),
		Record:  *rec.Clone(),
	})
}

// Replace writes rec for address in place of previousWalletID.
func (c *Client) Replace(ctx context.Context, address,
	previousWalletID string, rec *Record) error {

	return c.put(ctx, PutRequest{
		Address:          strings.ToLower(address),
		ReplacesWalletID: previousWalletID,
		Record:           *rec.Clone(),
	})
}

func (c *Client) put(ctx context.Context, req PutRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("error marshaling record: %w", err)
	}

	body, status, err := c.do(
		ctx, http.MethodPost, c.cfg.BaseURL+metadataPath, data,
	)
	if err != nil {
		return err
	}

	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("%w: POST returned status %d: %s",
			ErrRemoteUnavailable, status, strings.TrimSpace(string(body)))
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string,
	data []byte) ([]byte, int, error) {

	req, err := http.NewRequestWithContext(
		ctx, method, endpoint, bytes.NewReader(data),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("error creating request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		timestamp := c.now().UTC().Format(time.RFC3339)
		req.Header.Set("X-API-Key", c.cfg.APIKey)
		req.Header.Set("X-Timestamp", timestamp)
		req.Header.Set("X-Signature",
			Sign(c.cfg.APIKey, timestamp, data))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: error reading response body: %v",
			ErrRemoteUnavailable, err)
	}

	log.Tracef("%s %s -> %d (request %s)", method, endpoint,
		resp.StatusCode, requestID)

	return body, resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 keyed by apiKey over
// apiKey || timestamp || body.
func Sign(apiKey, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(apiKey))
	h.Write([]byte(apiKey + timestamp))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature produced by Sign in constant time.
func VerifySignature(apiKey, timestamp string, body []byte,
	signature string) bool {

	want, err := hex.DecodeString(Sign(apiKey, timestamp, body))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
