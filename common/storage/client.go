// Package storage is the intermediate-data and final-result exchange client
// (C5, C9): PUT/GET against the hub's object store, through the node's own
// ingress, under three locations (final, global/intermediate, local).
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/flamehq/flame-node-sdk/common/clients"
	"github.com/flamehq/flame-node-sdk/common/logger"
	"github.com/flamehq/flame-node-sdk/common/nodeconfig"
)

// OutputType selects how a result is serialized on the wire.
type OutputType string

const (
	OutputString OutputType = "str"
	OutputBytes  OutputType = "bytes"
	// OutputSelfDescribing carries arbitrary Go values (maps, slices,
	// numbers) that round-trip through encoding/gob; used whenever str/bytes
	// don't fit the value, or as the fallback when they fail to encode it.
	OutputSelfDescribing OutputType = "self-describing"
)

// Location is where intermediate data is saved.
type Location string

const (
	// LocationGlobal is the hub's central object store (visible to every
	// participant with access to the analysis).
	LocationGlobal Location = "global"
	// LocationLocal is node-private storage, addressable by tag.
	LocationLocal Location = "local"
)

// kind is the wire-level storage bucket, which differs from Location: the
// hub's API calls the global bucket "intermediate".
type kind string

const (
	kindFinal        kind = "final"
	kindIntermediate kind = "intermediate"
	kindLocal        kind = "local"
)

func (l Location) kind() kind {
	if l == LocationLocal {
		return kindLocal
	}
	return kindIntermediate
}

// TagOption selects which locally-tagged result(s) to return when more than
// one shares a tag.
type TagOption string

const (
	TagOptionAll   TagOption = "all"
	TagOptionFirst TagOption = "first"
	TagOptionLast  TagOption = "last"
)

// LocalDPParams requests server-side local differential privacy on a final,
// numeric result. Both fields must be strictly positive.
type LocalDPParams struct {
	Epsilon     float64
	Sensitivity float64
}

// Receipt is what the hub returns for a stored object. URL and ID are empty
// for final-result submissions, which the hub does not address by id.
type Receipt struct {
	Status string
	URL    string
	ID     string
}

var tagPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

const maxTagLength = 32

func validateTag(tag string) error {
	if len(tag) > maxTagLength {
		return fmt.Errorf("storage: tag %q exceeds %d characters", tag, maxTagLength)
	}
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("storage: invalid tag %q, must be lowercase letters, digits and hyphens", tag)
	}
	return nil
}

// Client is the HTTP transport to the hub's object store.
type Client struct {
	identity *nodeconfig.Identity
	http     atomic.Pointer[clients.Client]
	baseURL  string
	log      *logger.Logger
}

// NewClient constructs a storage client for the given identity.
func NewClient(identity *nodeconfig.Identity, log *logger.Logger) *Client {
	c := &Client{
		identity: identity,
		baseURL:  fmt.Sprintf("http://%s/storage", identity.IngressHost),
		log:      log,
	}
	c.http.Store(clients.NewClient(identity.PlatformToken, log))
	return c
}

// RefreshToken swaps the underlying HTTP client for one built with the new
// bearer token (spec.md §5 immutable-client-swap pattern).
func (c *Client) RefreshToken(token string) {
	c.http.Store(clients.NewClient(token, c.log))
}

func (c *Client) client() *clients.Client {
	return c.http.Load()
}

// SubmitFinalResult pushes one final result to the hub. Only callable by a
// node whose role is aggregator; the caller (the sdk façade) enforces that.
func (c *Client) SubmitFinalResult(ctx context.Context, result any, outputType OutputType, localDP *LocalDPParams) (Receipt, error) {
	return c.push(ctx, result, pushOptions{kind: kindFinal, outputType: outputType, localDP: localDP})
}

// SubmitFinalResults pushes each element of results as a separate final
// result, preserving order in the returned receipts.
func (c *Client) SubmitFinalResults(ctx context.Context, results []any, outputType OutputType, localDP *LocalDPParams) ([]Receipt, error) {
	receipts := make([]Receipt, 0, len(results))
	for _, result := range results {
		receipt, err := c.SubmitFinalResult(ctx, result, outputType, localDP)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// SaveIntermediateData saves data at the given location under an optional
// local tag. Use SaveIntermediateDataEncrypted instead when per-recipient
// encryption is required.
func (c *Client) SaveIntermediateData(ctx context.Context, data any, location Location, tag string) (Receipt, error) {
	if tag != "" && location != LocationLocal {
		return Receipt{}, fmt.Errorf("storage: tag is only valid with location=local")
	}
	if tag != "" {
		if err := validateTag(tag); err != nil {
			return Receipt{}, err
		}
	}
	return c.push(ctx, data, pushOptions{kind: location.kind(), tag: tag, outputType: OutputSelfDescribing})
}

// SaveIntermediateDataEncrypted saves the same data once per remote node id,
// encrypted against that node's public key by the hub (global storage only).
// It returns one receipt per recipient, keyed by node id.
func (c *Client) SaveIntermediateDataEncrypted(ctx context.Context, data any, remoteNodeIDs []string) (map[string]Receipt, error) {
	receipts := make(map[string]Receipt, len(remoteNodeIDs))
	for _, nodeID := range remoteNodeIDs {
		receipt, err := c.push(ctx, data, pushOptions{kind: kindIntermediate, remoteNodeID: nodeID, outputType: OutputSelfDescribing})
		if err != nil {
			return receipts, err
		}
		receipts[nodeID] = receipt
	}
	return receipts, nil
}

// GetIntermediateData fetches a single piece of intermediate data by id (and
// optional sender, for encrypted global storage), decoding it back to a Go
// value via the self-describing codec.
func (c *Client) GetIntermediateData(ctx context.Context, location Location, id, senderNodeID string) (any, error) {
	if id == "" {
		return nil, fmt.Errorf("storage: id is required")
	}
	path := fmt.Sprintf("/%s/%s", location.kind(), id)
	if senderNodeID != "" {
		path += "?node_id=" + senderNodeID
	}
	return c.getAndDecode(ctx, path)
}

// GetIntermediateDataByTag fetches every local result tagged with tag,
// filtered by tagOption when more than one matches.
func (c *Client) GetIntermediateDataByTag(ctx context.Context, tag string, tagOption TagOption) ([]any, error) {
	if err := validateTag(tag); err != nil {
		return nil, err
	}
	urls, err := c.urlsForTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	switch tagOption {
	case TagOptionFirst:
		if len(urls) > 1 {
			urls = urls[:1]
		}
	case TagOptionLast:
		if len(urls) > 1 {
			urls = urls[len(urls)-1:]
		}
	}

	results := make([]any, 0, len(urls))
	for _, url := range urls {
		value, err := c.getAndDecode(ctx, url)
		if err != nil {
			return results, err
		}
		results = append(results, value)
	}
	return results, nil
}

// GetLocalTags returns the tags used for locally stored results, optionally
// filtered to those containing substr.
func (c *Client) GetLocalTags(ctx context.Context, substr string) ([]string, error) {
	var resp struct {
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/local/tags", nil, &resp); err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(resp.Tags))
	for _, t := range resp.Tags {
		if substr == "" || containsSubstring(t.Name, substr) {
			tags = append(tags, t.Name)
		}
	}
	return tags, nil
}

func containsSubstring(s, substr string) bool {
	return len(substr) == 0 || (len(s) >= len(substr) && indexOf(s, substr) >= 0)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func (c *Client) urlsForTag(ctx context.Context, tag string) ([]string, error) {
	var resp struct {
		Results []struct {
			URL string `json:"url"`
		} `json:"results"`
	}
	if err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/local/tags/"+tag, nil, &resp); err != nil {
		return nil, err
	}
	urls := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		urls[i] = "/local/" + lastPathSegmentAfter(r.URL, "/local/")
	}
	return urls, nil
}

func lastPathSegmentAfter(url, marker string) string {
	idx := indexOf(url, marker)
	if idx < 0 {
		return url
	}
	return url[idx+len(marker):]
}

type pushOptions struct {
	kind         kind
	tag          string
	remoteNodeID string
	outputType   OutputType
	localDP      *LocalDPParams
}

func (c *Client) push(ctx context.Context, result any, opts pushOptions) (Receipt, error) {
	if opts.tag != "" && opts.kind != kindLocal {
		return Receipt{}, fmt.Errorf("storage: tag can only be used with local storage")
	}
	if opts.remoteNodeID != "" && opts.kind != kindIntermediate {
		return Receipt{}, fmt.Errorf("storage: remote node id can only be used with global storage")
	}

	body, usedType, err := c.encode(result, opts.outputType, opts.localDP)
	if err != nil {
		return Receipt{}, fmt.Errorf("storage: encode result: %w", err)
	}

	path := fmt.Sprintf("%s/%s/", c.baseURL, opts.kind)
	fields := map[string]string{}
	if opts.remoteNodeID != "" {
		fields["remote_node_id"] = opts.remoteNodeID
	} else if opts.tag != "" {
		fields["tag"] = opts.tag
	}
	if opts.localDP != nil {
		path += "localdp"
		fields["epsilon"] = strconv.FormatFloat(opts.localDP.Epsilon, 'g', -1, 64)
		fields["sensitivity"] = strconv.FormatFloat(opts.localDP.Sensitivity, 'g', -1, 64)
	}

	reqBody, contentType, err := buildMultipart(body, fields)
	if err != nil {
		return Receipt{}, err
	}

	resp, err := c.client().DoWithContentType(ctx, http.MethodPut, path, reqBody, contentType)
	if err != nil {
		return Receipt{}, fmt.Errorf("storage: push request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return Receipt{}, fmt.Errorf("storage: push returned %d: %s", resp.StatusCode, string(data))
	}

	if opts.kind == kindFinal {
		return Receipt{Status: "success"}, nil
	}

	var decoded struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Receipt{}, fmt.Errorf("storage: decode push response: %w", err)
	}
	c.log.Debug("storage push succeeded", "type", usedType, "url", decoded.URL)
	return Receipt{Status: "success", URL: decoded.URL, ID: lastPathSegmentAfter(decoded.URL, "/"+string(opts.kind)+"/")}, nil
}

func buildMultipart(fileBody []byte, fields map[string]string) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	name := fmt.Sprintf("result_%s_%s", uuid.New().String()[:4], time.Now().Format("060102150405"))
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(fileBody); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return buf, writer.FormDataContentType(), nil
}

func (c *Client) getAndDecode(ctx context.Context, path string) (any, error) {
	resp, err := c.client().Do(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: get request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("storage: get %s returned %d: %s", path, resp.StatusCode, string(data))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return decodeSelfDescribing(data)
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out any) error {
	resp, err := c.client().Do(ctx, method, url, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("storage: %s %s returned %d: %s", method, url, resp.StatusCode, string(data))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// toFinite reports whether v is a numeric Go value and returns it as a
// float64, for local differential privacy's finiteness check.
func toFinite(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
