package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/opensource-finance/riskguard/internal/domain"
	"github.com/opensource-finance/riskguard/internal/guard"
	"github.com/opensource-finance/riskguard/internal/identity"
)

// Response is a complete HTTP response. A challenge or block handler that
// resolves with RETURN and a *Response has it written to the client as is.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Render copies the response onto w.
func (resp *Response) Render(w http.ResponseWriter) {
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

// upstreamError marks a guarded call whose upstream answered with an error status.
type upstreamError struct {
	resp *Response
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.resp.Status)
}

// bufferedWriter holds the upstream response until the decision is known.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) response() *Response {
	status := b.status
	if status == 0 {
		status = http.StatusOK
	}
	return &Response{Status: status, Header: b.header, Body: b.body.Bytes()}
}

// GuardMiddleware runs the wrapped handler as the guarded action of route.
// A response status >= 400 counts as a failed action.
func GuardMiddleware(processor *guard.Processor, resolver *identity.Resolver, route domain.RouteConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		resolver = identity.DefaultResolver()
	}
	if logger == nil {
		logger = slog.Default()
	}
	overrides := domain.ParseOverrides(route.Rules, logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			inv := guard.Invocation{
				Context: func() *domain.RiskContext {
					return resolver.RiskContext(r, route.Action)
				},
				Overrides:            overrides,
				EvaluateBefore:       route.EvaluateBefore,
				EvaluateOnFailure:    route.EvaluateOnFailure,
				EvaluateAfterSuccess: route.EvaluateAfterSuccess,
			}

			value, err := processor.Run(r.Context(), inv, func(ctx context.Context) (any, error) {
				buf := newBufferedWriter()
				next.ServeHTTP(buf, r.WithContext(ctx))
				resp := buf.response()
				if resp.Status >= http.StatusBadRequest {
					return resp, &upstreamError{resp: resp}
				}
				return resp, nil
			})

			writeGuarded(w, value, err, route, logger)
		})
	}
}

func writeGuarded(w http.ResponseWriter, value any, err error, route domain.RouteConfig, logger *slog.Logger) {
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrBlocked):
			writeDecision(w, http.StatusForbidden, err)
		case errors.Is(err, domain.ErrChallengeRequired):
			writeDecision(w, http.StatusUnauthorized, err)
		default:
			if ue, ok := err.(*upstreamError); ok {
				ue.resp.Render(w)
				return
			}
			logger.Error("guarded route failed",
				"path", route.Path,
				"action", route.Action,
				"error", err,
			)
			writeJSON(w, http.StatusServiceUnavailable, errorBody("risk evaluation unavailable"))
		}
		return
	}

	switch v := value.(type) {
	case *Response:
		v.Render(w)
	case nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, v)
	}
}

func writeDecision(w http.ResponseWriter, status int, err error) {
	body := map[string]any{"error": err.Error()}
	var decisionErr *domain.DecisionError
	if errors.As(err, &decisionErr) {
		body["decision"] = decisionErr.Decision
		body["reason"] = decisionErr.Reason
		if o := decisionErr.Outcome; o != nil {
			body["outcomeId"] = o.ID
			body["retryAfterSeconds"] = int64(o.TTL.Seconds())
			body["permanent"] = o.Permanent
		}
	}
	writeJSON(w, status, body)
}

// NewProxy returns a reverse proxy to the route's upstream.
func NewProxy(route domain.RouteConfig, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(route.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream %q: %w", route.Upstream, err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream %q: scheme and host are required", route.Upstream)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warn("upstream request failed",
			"upstream", route.Upstream,
			"path", r.URL.Path,
			"error", err,
		)
		writeJSON(w, http.StatusBadGateway, errorBody("upstream unavailable"))
	}
	return proxy, nil
}
