// Package security はメディア取り込みと上流テキストの安全性を担保する機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

var (
	// ErrInvalidURL はURLの形式が不正であることを示す。
	ErrInvalidURL = errors.New("invalid url")
	// ErrBlockedURL は内部ネットワーク等への到達を防ぐためにURLを拒否したことを示す。
	ErrBlockedURL = errors.New("blocked url")
)

// URLGuard は外部URLから画像を取り込む際のSSRF対策。
type URLGuard interface {
	// NewSafeClient はDNS解決後のIPも検証するHTTPクライアントを生成する。
	NewSafeClient(timeout time.Duration) *http.Client
	// ValidateURL はリクエスト前にURLを静的に検証する。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

var allowedPorts = []int{80, 443}

// blockedPrefixes は取り込み元として許可しないアドレス範囲。
var blockedPrefixes = mustPrefixes(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"100.64.0.0/10", // CGNAT
	"127.0.0.0/8",
	"169.254.0.0/16", // メタデータIPを含む
	"0.0.0.0/8",
	"224.0.0.0/4",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
	"ff00::/8",
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		out = append(out, netip.MustParsePrefix(c))
	}
	return out
}

var blockedHostSuffixes = []string{".localhost", ".internal", ".local"}

type ssrfGuard struct{}

// NewSSRFGuard はURLGuardを生成する。
func NewSSRFGuard() URLGuard {
	return ssrfGuard{}
}

// NewSafeClient はsafeurlでラップしたHTTPクライアントを返す。
// プライベート・ループバック・リンクローカル宛ての接続はDialerの段階で拒否される。
func (ssrfGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(allowedPorts...).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL はスキーム・ポート・ホストを検証する。
// DNS再バインディングはNewSafeClient側で防ぐ。
func (ssrfGuard) ValidateURL(rawURL string) error {
	if strings.TrimSpace(rawURL) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.User != nil {
		return fmt.Errorf("%w: credentials in url", ErrBlockedURL)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidURL)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("%w: port %q", ErrInvalidURL, p)
		}
		if !portAllowed(port) {
			return fmt.Errorf("%w: port %d", ErrBlockedURL, port)
		}
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if addrBlocked(addr) {
			return fmt.Errorf("%w: address %s", ErrBlockedURL, addr)
		}
		return nil
	}
	// 10進表記などnetipで解釈できないIP表現
	if ip := net.ParseIP(host); ip != nil {
		return fmt.Errorf("%w: ambiguous ip %s", ErrBlockedURL, host)
	}

	lower := strings.ToLower(strings.TrimSuffix(host, "."))
	if lower == "localhost" {
		return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
		}
	}
	return nil
}

func portAllowed(port int) bool {
	for _, p := range allowedPorts {
		if p == port {
			return true
		}
	}
	return false
}

func addrBlocked(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
