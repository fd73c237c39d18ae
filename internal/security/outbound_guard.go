package security

import (
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// OutboundGuard は通知Webhookなど外部への送信先を検証し、
// 内部ネットワークへ到達できないHTTPクライアントを生成する。
type OutboundGuard interface {
	// NewClient は内部アドレスへの接続を拒否するHTTPクライアントを生成する。
	// DNS解決後のIPも接続時に検証される。
	NewClient(timeout time.Duration) *http.Client
	// ValidateURL は送信先URLを設定読み込み時に静的に検証する。
	ValidateURL(rawURL string) error
}

// blockedPrefixes は送信先として拒否するアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// outboundGuard はsafeurlによるOutboundGuard実装。
type outboundGuard struct {
	schemes []string
}

// NewOutboundGuard はOutboundGuardを生成する。
// allowPlainHTTPがfalseの場合はhttpsのみ許可する。
func NewOutboundGuard(allowPlainHTTP bool) *outboundGuard {
	schemes := []string{"https"}
	if allowPlainHTTP {
		schemes = append(schemes, "http")
	}
	return &outboundGuard{schemes: schemes}
}

// NewClient はsafeurlでラップしたHTTPクライアントを生成する。
func (g *outboundGuard) NewClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(g.schemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は送信先URLのスキーム・ホストを検証する。
func (g *outboundGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !g.allowsScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, g.schemes)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	lower := strings.ToLower(host)
	if lower == "localhost" || strings.HasSuffix(lower, ".localhost") || strings.HasSuffix(lower, ".internal") {
		return fmt.Errorf("blocked host: %s", host)
	}
	return nil
}

func (g *outboundGuard) allowsScheme(scheme string) bool {
	for _, allowed := range g.schemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, prefix := range blockedPrefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// compile-time interface check
var _ OutboundGuard = (*outboundGuard)(nil)
