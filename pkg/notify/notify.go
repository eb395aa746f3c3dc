// Package notify publishes provenance state changes to an NGSI-LD
// context broker so downstream situational-awareness consumers see
// anchor and disclosure events without polling the platform.
//
// Publication is best effort: callers log failures and move on, the
// broker is not part of the provenance transaction.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// CoreContext is the NGSI-LD core @context served to the broker.
	CoreContext = "https://uri.etsi.org/ngsi-ld/v1/ngsi-ld-core-context-v1.8.jsonld"

	// DefaultTenant scopes entities in a shared broker deployment.
	DefaultTenant = "csds"

	entityType = "ThreatReport"
)

// Broker is an NGSI-LD context broker client.
type Broker struct {
	baseURL string
	tenant  string
	httpc   *http.Client
}

// Option configures a Broker.
type Option func(*Broker)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Broker) { b.httpc = c }
}

// WithTenant overrides the NGSILD-Tenant header value.
func WithTenant(tenant string) Option {
	return func(b *Broker) { b.tenant = tenant }
}

// New creates a Broker for the given base URL.
func New(baseURL string, opts ...Option) *Broker {
	b := &Broker{
		baseURL: baseURL,
		tenant:  DefaultTenant,
		httpc:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EntityID returns the broker URN for a report record.
func EntityID(reportID string) string {
	return fmt.Sprintf("urn:ngsi-ld:%s:%s", entityType, reportID)
}

type property struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

type relationship struct {
	Type   string `json:"type"`
	Object string `json:"object"`
}

func prop(v interface{}) property {
	return property{Type: "Property", Value: v}
}

// ReportAnchored publishes a successful anchoring: the collection
// address, the owner asset hash, and the submission time.
func (b *Broker) ReportAnchored(ctx context.Context, reportID, collectionAddress, anchorHash string, at time.Time) error {
	return b.upsertAttrs(ctx, reportID, map[string]interface{}{
		"anchored":          prop(true),
		"collectionAddress": prop(collectionAddress),
		"anchorHash":        prop(anchorHash),
		"anchoredAt":        prop(at.UTC().Format(time.RFC3339)),
	})
}

// ReportShared publishes a disclosure to a target organization.
func (b *Broker) ReportShared(ctx context.Context, reportID, targetOrgID, shareAssetAddress string, at time.Time) error {
	return b.upsertAttrs(ctx, reportID, map[string]interface{}{
		"sharedWith": relationship{
			Type:   "Relationship",
			Object: fmt.Sprintf("urn:ngsi-ld:Organization:%s", targetOrgID),
		},
		"shareAsset": prop(shareAssetAddress),
		"sharedAt":   prop(at.UTC().Format(time.RFC3339)),
	})
}

// ShareRevoked publishes a revocation of a previous disclosure.
func (b *Broker) ShareRevoked(ctx context.Context, reportID, targetOrgID string, at time.Time) error {
	return b.upsertAttrs(ctx, reportID, map[string]interface{}{
		"revokedFrom": relationship{
			Type:   "Relationship",
			Object: fmt.Sprintf("urn:ngsi-ld:Organization:%s", targetOrgID),
		},
		"revokedAt": prop(at.UTC().Format(time.RFC3339)),
	})
}

// ReportBroadcasted publishes a network-wide broadcast with the number
// of organizations reached.
func (b *Broker) ReportBroadcasted(ctx context.Context, reportID string, reached int64, at time.Time) error {
	return b.upsertAttrs(ctx, reportID, map[string]interface{}{
		"broadcasted":   prop(true),
		"reachedOrgs":   prop(reached),
		"broadcastedAt": prop(at.UTC().Format(time.RFC3339)),
	})
}

// upsertAttrs appends attributes to the report entity, creating the
// entity first when the broker does not know it yet.
func (b *Broker) upsertAttrs(ctx context.Context, reportID string, attrs map[string]interface{}) error {
	attrs["@context"] = []string{CoreContext}

	url := fmt.Sprintf("%s/ngsi-ld/v1/entities/%s/attrs", b.baseURL, EntityID(reportID))
	status, err := b.send(ctx, http.MethodPost, url, attrs)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return b.createEntity(ctx, reportID, attrs)
	}
	if status >= 300 {
		return fmt.Errorf("notify: broker returned %d for report %s", status, reportID)
	}
	return nil
}

func (b *Broker) createEntity(ctx context.Context, reportID string, attrs map[string]interface{}) error {
	entity := map[string]interface{}{
		"id":   EntityID(reportID),
		"type": entityType,
	}
	for k, v := range attrs {
		entity[k] = v
	}

	url := b.baseURL + "/ngsi-ld/v1/entities"
	status, err := b.send(ctx, http.MethodPost, url, entity)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("notify: broker returned %d creating entity for report %s", status, reportID)
	}
	return nil
}

func (b *Broker) send(ctx context.Context, method, url string, body interface{}) (int, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(raw))
	if err != nil {
		return 0, fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/ld+json")
	if b.tenant != "" {
		req.Header.Set("NGSILD-Tenant", b.tenant)
	}

	resp, err := b.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("notify: %s %s: %w", method, url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
