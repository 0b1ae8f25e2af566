package http

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	apicommon "github.com/compose-network/builder-gate/server/api"
)

// NewUpstreamProxy forwards permitted builder requests to target, keeping the
// path, query and headers of the original request.
func NewUpstreamProxy(target string, timeout time.Duration, log zerolog.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q must be http or https", target)
	}

	logger := log.With().Str("component", "upstream-proxy").Str("upstream", u.Redacted()).Logger()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error().Err(err).Str("path", r.URL.Path).Msg("upstream request failed")
			apicommon.WriteError(w, r, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "upstream request failed", nil)
		},
	}
	return proxy, nil
}
