package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/switchyard-ai/switchyard/internal/x402"
)

const fetchMaxBody = 1 << 20

// blockedHosts are denied before DNS resolution.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
	"169.254.169.254":          true,
}

// WebFetchOptions tunes the web_fetch tool.
type WebFetchOptions struct {
	// BlockedHosts extends the built-in SSRF denylist.
	BlockedHosts []string
	// MaxChars truncates tool output beyond the 1 MB body limit. Zero
	// leaves output untruncated.
	MaxChars int
}

// WebFetchTool fetches a URL with SSRF guards. On an HTTP 402 challenge it
// pays via the context's signer and retries once; without a signer it
// reports x402Required so the caller can decide.
type WebFetchTool struct {
	base
	client   *http.Client
	blocked  map[string]bool
	maxChars int
}

func NewWebFetchTool(client *http.Client, opts WebFetchOptions) *WebFetchTool {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	blocked := make(map[string]bool, len(opts.BlockedHosts))
	for _, h := range opts.BlockedHosts {
		blocked[strings.ToLower(h)] = true
	}
	return &WebFetchTool{
		base: newBase(
			"web_fetch",
			"Fetch a public URL. Responses are truncated to 1 MB. Paid resources use the x402 flow when a signer is configured.",
			Heavyweight,
			`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "minLength": 1},
					"method": {"type": "string", "enum": ["GET", "HEAD"]},
					"headers": {"type": "object", "additionalProperties": {"type": "string"}}
				},
				"required": ["url"],
				"additionalProperties": false
			}`,
		),
		client:   client,
		blocked:  blocked,
		maxChars: opts.MaxChars,
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Headers map[string]string `json:"headers"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if input.Method == "" {
		input.Method = http.MethodGet
	}

	if err := t.guardURL(input.URL); err != nil {
		return securityFailure(err)
	}

	tc.Progress("fetching " + input.URL)
	status, body, err := t.do(ctx, input.Method, input.URL, input.Headers, "")
	if err != nil {
		return failure("fetch: %v", err)
	}

	if status == http.StatusPaymentRequired {
		return t.handlePaymentRequired(ctx, tc, input.Method, input.URL, input.Headers, body)
	}
	return t.fetchResult(input.URL, status, body, false)
}

func (t *WebFetchTool) handlePaymentRequired(ctx context.Context, tc *Context, method, rawURL string, headers map[string]string, body []byte) *Result {
	challenge, err := x402.ParseChallenge(body)
	if err != nil {
		return failure("402 response with unreadable challenge: %v", err)
	}
	if tc.Signer == nil {
		res := failure("x402Required")
		res.Metadata = map[string]any{
			"x402_required": true,
			"accepts":       challenge.Accepts,
		}
		return res
	}

	header, err := x402.BuildPaymentHeader(ctx, tc.Signer, challenge)
	if err != nil {
		return failure("build payment: %v", err)
	}
	tc.Progress("retrying with payment")
	status, paid, err := t.do(ctx, method, rawURL, headers, header)
	if err != nil {
		return failure("paid retry: %v", err)
	}
	if status == http.StatusPaymentRequired {
		return failure("payment rejected (second 402)")
	}
	return t.fetchResult(rawURL, status, paid, true)
}

func (t *WebFetchTool) do(ctx context.Context, method, rawURL string, headers map[string]string, payment string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if payment != "" {
		req.Header.Set(x402.PaymentHeader, payment)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBody))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (t *WebFetchTool) fetchResult(rawURL string, status int, body []byte, paid bool) *Result {
	output := string(body)
	truncated := false
	if t.maxChars > 0 && len(output) > t.maxChars {
		output = output[:t.maxChars] + "\n[truncated]"
		truncated = true
	}
	res := &Result{
		Success: status >= 200 && status <= 299,
		Output:  output,
		Metadata: map[string]any{
			"url":    rawURL,
			"status": status,
			"bytes":  len(body),
			"paid":   paid,
		},
	}
	if truncated {
		res.Metadata["truncated"] = true
	}
	if !res.Success {
		res.Error = fmt.Sprintf("http status %d", status)
	}
	return res
}

// guardURL rejects non-HTTP schemes, blocked hosts, and hosts resolving to
// private or otherwise non-public addresses.
func (t *WebFetchTool) guardURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("url has no host")
	}
	if blockedHosts[host] || t.blocked[host] {
		return fmt.Errorf("host %q is blocked", host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if !publicIP(ip) {
			return fmt.Errorf("address %s is not publicly routable", ip)
		}
		return nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, ip := range ips {
		if !publicIP(ip) {
			return fmt.Errorf("host %s resolves to non-public address %s", host, ip)
		}
	}
	return nil
}

func publicIP(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast())
}

// SearchResult is one hit from a search backend.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchBackend is a pluggable web search provider.
type SearchBackend interface {
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
}

// WebSearchTool queries the configured search backend.
type WebSearchTool struct {
	base
	backend SearchBackend
}

func NewWebSearchTool(backend SearchBackend) *WebSearchTool {
	return &WebSearchTool{
		base: newBase(
			"web_search",
			"Search the web and return titles, URLs, and snippets.",
			Lightweight,
			`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"limit": {"type": "integer", "minimum": 1, "maximum": 20}
				},
				"required": ["query"],
				"additionalProperties": false
			}`,
		),
		backend: backend,
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args json.RawMessage, tc *Context) *Result {
	var input struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &input); err != nil {
		return failure("decode arguments: %v", err)
	}
	if t.backend == nil {
		return failure("no search backend configured")
	}
	if input.Limit == 0 {
		input.Limit = 5
	}

	results, err := t.backend.Search(ctx, input.Query, input.Limit)
	if err != nil {
		return failure("search: %v", err)
	}

	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Snippet)
		}
	}
	if sb.Len() == 0 {
		sb.WriteString("no results\n")
	}

	res := success(sb.String())
	res.Metadata = map[string]any{"query": input.Query, "results": len(results)}
	return res
}
