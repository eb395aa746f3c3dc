// Package pinner publishes metadata documents to content-addressed storage
// through the Pinata pinning API. Storage durability is the collaborator's
// concern; this client only obtains a content URI.
package pinner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.pinata.cloud"

// Pinata pins JSON documents and returns dweb gateway URIs.
type Pinata struct {
	jwt     string
	baseURL string
	httpc   *http.Client
}

// Option configures a Pinata client.
type Option func(*Pinata)

// WithBaseURL overrides the API endpoint (used in tests).
func WithBaseURL(u string) Option {
	return func(p *Pinata) { p.baseURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Pinata) { p.httpc = c }
}

// New creates a Pinata client authenticated by JWT.
func New(jwt string, opts ...Option) *Pinata {
	p := &Pinata{
		jwt:     jwt,
		baseURL: defaultBaseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type pinRequest struct {
	PinataContent json.RawMessage `json:"pinataContent"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// PinJSON pins a JSON document and returns its gateway URI.
func (p *Pinata) PinJSON(ctx context.Context, doc []byte) (string, error) {
	body, err := json.Marshal(pinRequest{PinataContent: doc})
	if err != nil {
		return "", fmt.Errorf("pinner: marshal pin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/pinning/pinJSONToIPFS", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("pinner: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.jwt)

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinner: pin request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("pinner: pin request returned %d: %s", resp.StatusCode, snippet)
	}

	var out pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pinner: decode pin response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", fmt.Errorf("pinner: pin response missing content hash")
	}

	return fmt.Sprintf("https://%s.ipfs.dweb.link/", out.IpfsHash), nil
}
