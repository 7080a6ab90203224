// Package data is the project's data-source client (C4): it lists the FHIR
// and S3 sources configured for the analysis through the hub's Kong
// datastore adapter, then fetches FHIR queries or S3 objects through the
// node's own Kong gateway.
package data

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flamehq/flame-node-sdk/common/clients"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
	"github.com/flamehq/flame-node-sdk/common/security"
)

// Source is one FHIR or S3 data source configured for the project.
type Source struct {
	ID    string
	Name  string
	Paths []string
}

// Client talks to the hub's datastore adapter (bearer auth) to discover
// sources, and to the node's Kong gateway (apikey auth) to fetch data.
type Client struct {
	identity *nodeconfig.Identity

	hub      atomic.Pointer[clients.Client] // bearer-authenticated, hub-adapter
	kong     *http.Client
	apiKey   string
	kongBase string
	hubBase  string

	mu      sync.RWMutex
	sources []Source

	urlValidator *security.URLValidator
	log          *logger.Logger
}

// NewClient constructs a data client and eagerly loads the project's
// available sources, matching the original SDK's eager retrieval at
// construction time.
func NewClient(ctx context.Context, identity *nodeconfig.Identity, log *logger.Logger) (*Client, error) {
	c := &Client{
		identity:     identity,
		kong:         &http.Client{Timeout: 30 * time.Second},
		apiKey:       identity.DataSourceToken,
		kongBase:     fmt.Sprintf("http://%s/kong", identity.IngressHost),
		hubBase:      fmt.Sprintf("http://%s/hub-adapter", identity.IngressHost),
		urlValidator: security.NewURLValidator(),
		log:          log,
	}
	c.hub.Store(clients.NewClient(identity.PlatformToken, log))

	if err := c.RefreshSources(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// RefreshToken swaps the hub-adapter client for one built with the new
// bearer token (spec.md §5). The Kong apikey client is unaffected: it
// authenticates with the data-source token, not the platform token.
func (c *Client) RefreshToken(token string) {
	c.hub.Store(clients.NewClient(token, c.log))
}

// RefreshSources re-fetches the project's available data sources from the
// hub and replaces the cached set.
func (c *Client) RefreshSources(ctx context.Context) error {
	resp, err := c.hub.Load().Do(ctx, http.MethodGet, fmt.Sprintf("%s/kong/datastore/%s", c.hubBase, c.identity.ProjectID), nil)
	if err != nil {
		return fmt.Errorf("data: retrieve available sources: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("data: datastore adapter returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded struct {
		Data []struct {
			ID    string   `json:"id"`
			Name  string   `json:"name"`
			Paths []string `json:"paths"`
		} `json:"data"`
	}
	if err := decodeJSON(resp.Body, &decoded); err != nil {
		return fmt.Errorf("data: decode available sources: %w", err)
	}

	sources := make([]Source, len(decoded.Data))
	for i, s := range decoded.Data {
		sources[i] = Source{ID: s.ID, Name: s.Name, Paths: s.Paths}
	}

	c.mu.Lock()
	c.sources = sources
	c.mu.Unlock()
	return nil
}

// ListSources returns the cached set of available data sources.
func (c *Client) ListSources() []Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Source, len(c.sources))
	copy(out, c.sources)
	return out
}

// GetFHIR runs every query against every configured source. A failed query
// is logged and skipped for that source (spec.md §4.5); results are keyed
// per source by query string.
func (c *Client) GetFHIR(ctx context.Context, queries []string) []map[string]any {
	sources := c.ListSources()
	results := make([]map[string]any, 0, len(sources))

	for _, source := range sources {
		dataset := make(map[string]any, len(queries))
		for _, query := range queries {
			url := fmt.Sprintf("%s/%s/fhir/%s", c.kongBase, source.Name, query)
			body, err := c.kongGet(ctx, url)
			if err != nil {
				c.log.Warn("data: fhir query failed, skipping", "source", source.Name, "query", query, "error", err)
				continue
			}
			value, err := decodeAny(body)
			if err != nil {
				c.log.Warn("data: fhir response decode failed, skipping", "source", source.Name, "query", query, "error", err)
				continue
			}
			dataset[query] = value
		}
		results = append(results, dataset)
	}
	return results
}

var s3KeyPattern = regexp.MustCompile(`<Key>(.*?)</Key>`)

// GetS3 enumerates each source's S3 objects, then fetches every object
// whose key is in keys (or every object, if keys is empty). Unlike FHIR
// queries, a fetch failure here is fatal: the original dataset is presumed
// fixed and non-retryable per source.
func (c *Client) GetS3(ctx context.Context, keys []string) ([]map[string][]byte, error) {
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	sources := c.ListSources()
	results := make([]map[string][]byte, 0, len(sources))

	for _, source := range sources {
		names, err := c.listS3Names(ctx, source.Name)
		if err != nil {
			return results, fmt.Errorf("data: list s3 objects for source %s: %w", source.Name, err)
		}

		dataset := make(map[string][]byte)
		for _, name := range names {
			if len(wanted) > 0 && !wanted[name] {
				continue
			}
			url := fmt.Sprintf("%s/%s/s3/%s", c.kongBase, source.Name, name)
			body, err := c.kongGet(ctx, url)
			if err != nil {
				return results, fmt.Errorf("data: fetch s3 object %s from source %s: %w", name, source.Name, err)
			}
			dataset[name] = body
		}
		results = append(results, dataset)
	}
	return results, nil
}

func (c *Client) listS3Names(ctx context.Context, sourceName string) ([]string, error) {
	body, err := c.kongGet(ctx, fmt.Sprintf("%s/%s/s3", c.kongBase, sourceName))
	if err != nil {
		return nil, err
	}
	matches := s3KeyPattern.FindAllStringSubmatch(string(body), -1)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m[1]
	}
	return names, nil
}

func (c *Client) kongGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connection", "close")

	resp, err := c.kong.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("kong returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// GetDataClient returns the base URL and a plain HTTP client for the data
// source identified by dataId, validated against SSRF before use: the path
// comes from the hub, which this node does not control (spec.md §4.5).
func (c *Client) GetDataClient(dataID string) (string, *http.Client, error) {
	var path string
	for _, source := range c.ListSources() {
		if source.ID == dataID && len(source.Paths) > 0 {
			path = source.Paths[0]
			break
		}
	}
	if path == "" {
		return "", nil, fmt.Errorf("data: source with id=%s not found", dataID)
	}
	if err := c.urlValidator.Validate(path); err != nil {
		return "", nil, fmt.Errorf("data: source path failed validation: %w", err)
	}
	return path, &http.Client{Timeout: 30 * time.Second}, nil
}
