// Package webfetch implements the WEB_FETCH tool, with the
// egress policy that constrains it: TLS required, private/loopback/link-local
// IP ranges blocked, bounded redirects, a response size cap, a host
// allow/deny list, and a crude prompt-injection heuristic scan over the
// fetched body.
package webfetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cortexhq/cortex/internal/domain"
	"github.com/cortexhq/cortex/internal/tools"
)

// Policy bounds what WEB_FETCH is allowed to reach.
type Policy struct {
	MaxRedirects  int
	MaxBodyBytes  int64
	RequestTimeout time.Duration
	AllowHosts    []string // empty = allow all except DenyHosts
	DenyHosts     []string
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRedirects:   3,
		MaxBodyBytes:   5 << 20, // matches domain.DefaultPolicy's egress cap
		RequestTimeout: 10 * time.Second,
	}
}

// Params is the WEB_FETCH tool's parameter schema.
type Params struct {
	URL string `json:"url" jsonschema:"required,description=Absolute https URL to fetch"`
}

// injectionMarkers are crude heuristics for fetched text that tries to
// talk to the model directly.
var injectionMarkers = []string{
	"ignore previous instructions",
	"ignore all previous instructions",
	"disregard the above",
	"you are now",
	"system prompt:",
	"### instruction",
}

// Tool implements tools.Tool for WEB_FETCH.
type Tool struct {
	policy Policy
	client *http.Client
}

func New(policy Policy) *Tool {
	if policy.RequestTimeout == 0 {
		policy = DefaultPolicy()
	}
	t := &Tool{policy: policy}
	t.client = &http.Client{
		Timeout: policy.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= policy.MaxRedirects {
				return fmt.Errorf("too many redirects")
			}
			if req.URL.Scheme != "https" {
				return fmt.Errorf("TLS is required: redirect to a non-https url")
			}
			if err := checkPrivateHost(req.Context(), req.URL.Hostname()); err != nil {
				return err
			}
			return checkHostAllowed(req.URL, policy)
		},
	}
	return t
}

func (t *Tool) Name() domain.ToolName { return domain.ToolWebFetch }

func (t *Tool) Execute(ctx context.Context, args map[string]any) domain.ToolOutcome {
	raw, _ := args["url"].(string)
	if raw == "" {
		return tools.Failed("parse_error", "url is required")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return tools.Failed("parse_error", "invalid url: "+err.Error())
	}
	if u.Scheme != "https" {
		return tools.Blocked("TLS is required: only https urls may be fetched")
	}
	if err := checkHostAllowed(u, t.policy); err != nil {
		return tools.Blocked(err.Error())
	}
	if err := checkPrivateHost(ctx, u.Hostname()); err != nil {
		return tools.Blocked(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return tools.Failed("network_error", err.Error())
	}
	req.Header.Set("User-Agent", "cortex-webfetch/1.0")

	resp, err := t.client.Do(req)
	if err != nil {
		return tools.Failed("network_error", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return tools.Failed("network_error", fmt.Sprintf("upstream returned status %d", resp.StatusCode))
	}

	limited := io.LimitReader(resp.Body, t.policy.MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return tools.Failed("network_error", err.Error())
	}
	truncated := false
	if int64(len(body)) > t.policy.MaxBodyBytes {
		body = body[:t.policy.MaxBodyBytes]
		truncated = true
	}

	text := string(body)
	suspected := scanForInjection(text)

	return tools.Ok(text, map[string]any{
		"status":              resp.StatusCode,
		"truncated":           truncated,
		"injection_suspected": suspected,
		"content_type":        resp.Header.Get("Content-Type"),
	})
}

func checkHostAllowed(u *url.URL, p Policy) error {
	host := u.Hostname()
	for _, d := range p.DenyHosts {
		if strings.EqualFold(d, host) {
			return fmt.Errorf("host %q is denied by policy", host)
		}
	}
	if len(p.AllowHosts) == 0 {
		return nil
	}
	for _, a := range p.AllowHosts {
		if strings.EqualFold(a, host) {
			return nil
		}
	}
	return fmt.Errorf("host %q is not in the allowlist", host)
}

// checkPrivateHost resolves host and rejects loopback, link-local, and
// private (RFC1918 / ULA) addresses to prevent SSRF against internal
// services.
func checkPrivateHost(ctx context.Context, host string) error {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("could not resolve host: %w", err)
	}
	for _, ip := range ips {
		if isDisallowedIP(ip.IP) {
			return fmt.Errorf("host %q resolves to a disallowed private address", host)
		}
	}
	return nil
}

func isDisallowedIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}

func scanForInjection(body string) bool {
	scanner := bufio.NewScanner(strings.NewReader(strings.ToLower(body)))
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Text()
		for _, m := range injectionMarkers {
			if strings.Contains(line, m) {
				return true
			}
		}
	}
	return false
}
