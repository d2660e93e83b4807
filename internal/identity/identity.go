// Package identity resolves the user id and client IP of an HTTP request.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/opensource-finance/riskguard/internal/domain"
)

// UnknownIP is used when no extractor yields an address.
const UnknownIP = "unknown"

// Extractor pulls one candidate value out of a request. Blank means "no value".
type Extractor func(r *http.Request) string

// Chain tries extractors in order; the first non-blank value wins.
type Chain struct {
	extractors []Extractor
}

// NewChain creates a chain. Nil extractors are skipped, and at least one
// extractor is required.
func NewChain(extractors ...Extractor) (Chain, error) {
	var c Chain
	for _, e := range extractors {
		if e != nil {
			c.extractors = append(c.extractors, e)
		}
	}
	if len(c.extractors) == 0 {
		return Chain{}, errors.New("identity chain needs at least one extractor")
	}
	return c, nil
}

// Resolve returns the first non-blank value, trimmed, or "".
func (c Chain) Resolve(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, e := range c.extractors {
		if v := strings.TrimSpace(e(r)); v != "" {
			return v
		}
	}
	return ""
}

// FromHeaders returns the first non-blank header among names.
func FromHeaders(names ...string) Extractor {
	return func(r *http.Request) string {
		for _, name := range names {
			if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
				return v
			}
		}
		return ""
	}
}

// FromQuery returns the first non-blank query parameter among names.
func FromQuery(names ...string) Extractor {
	return func(r *http.Request) string {
		q := r.URL.Query()
		for _, name := range names {
			if v := strings.TrimSpace(q.Get(name)); v != "" {
				return v
			}
		}
		return ""
	}
}

// FromContext returns a string stored in the request context under key,
// e.g. by an authentication middleware.
func FromContext(key any) Extractor {
	return func(r *http.Request) string {
		v, _ := r.Context().Value(key).(string)
		return v
	}
}

// Proxies is a set of networks whose forwarding headers are believed.
type Proxies []*net.IPNet

// LoopbackProxies trusts a proxy on the same host only.
var LoopbackProxies = Proxies{
	{IP: net.IP{127, 0, 0, 0}, Mask: net.CIDRMask(8, 32)},
	{IP: net.IPv6loopback, Mask: net.CIDRMask(128, 128)},
}

// ParseProxies parses CIDRs or bare addresses.
func ParseProxies(entries []string) (Proxies, error) {
	var out Proxies
	var errs []error
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				errs = append(errs, fmt.Errorf("invalid trusted proxy %q", raw))
				continue
			}
			bits := 128
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid trusted proxy %q: %w", raw, err))
			continue
		}
		out = append(out, n)
	}
	return out, errors.Join(errs...)
}

// Contains reports whether addr falls in one of the networks.
func (p Proxies) Contains(addr string) bool {
	ip := net.ParseIP(strings.TrimSpace(addr))
	if ip == nil {
		return false
	}
	for _, n := range p {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// FromForwardedFor reads X-Forwarded-For when the peer is a trusted proxy.
// Entries are walked right to left and the first address that is not itself
// a trusted proxy is the client. Requests from any other peer yield "".
func FromForwardedFor(trusted Proxies) Extractor {
	return func(r *http.Request) string {
		if !trusted.Contains(peerHost(r)) {
			return ""
		}
		hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !trusted.Contains(hop) {
				return hop
			}
		}
		return ""
	}
}

// FromTrustedHeader reads a single-address header such as X-Real-IP when
// the peer is a trusted proxy.
func FromTrustedHeader(name string, trusted Proxies) Extractor {
	return func(r *http.Request) string {
		if !trusted.Contains(peerHost(r)) {
			return ""
		}
		return strings.TrimSpace(r.Header.Get(name))
	}
}

func peerHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// FromRemoteAddr returns the host part of r.RemoteAddr.
func FromRemoteAddr() Extractor {
	return peerHost
}

// Resolver builds risk contexts from requests.
type Resolver struct {
	User Chain
	IP   Chain
	Now  func() time.Time
}

// DefaultResolver is NewResolver(LoopbackProxies).
func DefaultResolver() *Resolver {
	return NewResolver(LoopbackProxies)
}

// NewResolver reads the user from X-User-Id or X-Auth-User. The IP comes
// from X-Forwarded-For, then X-Real-IP, then the peer address; the headers
// are only believed when the peer is in trusted.
func NewResolver(trusted Proxies) *Resolver {
	user, _ := NewChain(FromHeaders("X-User-Id", "X-Auth-User"))
	ip, _ := NewChain(
		FromForwardedFor(trusted),
		FromTrustedHeader("X-Real-IP", trusted),
		FromRemoteAddr(),
	)
	return &Resolver{User: user, IP: ip, Now: time.Now}
}

// UserID resolves the user id, "" when anonymous.
func (res *Resolver) UserID(r *http.Request) string {
	return res.User.Resolve(r)
}

// ClientIP resolves the client IP, UnknownIP when nothing matched.
func (res *Resolver) ClientIP(r *http.Request) string {
	if ip := res.IP.Resolve(r); ip != "" {
		return ip
	}
	return UnknownIP
}

// RiskContext builds the context for action from r.
func (res *Resolver) RiskContext(r *http.Request, action string) *domain.RiskContext {
	now := time.Now
	if res.Now != nil {
		now = res.Now
	}
	attrs := domain.NewAttributes().
		Set("method", r.Method).
		Set("path", r.URL.Path)
	if ua := r.UserAgent(); ua != "" {
		attrs.Set("userAgent", ua)
	}
	return &domain.RiskContext{
		Action:     action,
		UserID:     res.UserID(r),
		IP:         res.ClientIP(r),
		Timestamp:  now(),
		Attributes: attrs,
	}
}

type userKey struct{}

// WithUserID stores a user id for FromContext(UserKey()).
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserKey is the context key used by WithUserID.
func UserKey() any { return userKey{} }
