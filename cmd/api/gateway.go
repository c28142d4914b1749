// cmd/api/gateway.go
package main

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"guaranteedesk/internal/platform/httpx"
)

const apiPrefix = "/api/v1"

// mountUpstreams proxies /api/v1/<resource>/... to <upstream>/<resource>/...
func mountUpstreams(r chi.Router, logger *zap.Logger, upstreams map[string]string) error {
	for resource, raw := range upstreams {
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return fmt.Errorf("upstream for %s: %q is not an absolute URL", resource, raw)
		}

		proxy := httputil.NewSingleHostReverseProxy(target)
		proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
			logger.Warn("upstream unavailable",
				zap.String("resource", resource),
				zap.String("path", req.URL.Path),
				zap.Error(err),
			)
			httpx.RespondError(w, http.StatusBadGateway, "upstream_unavailable", resource+" service is unavailable")
		}

		handler := http.StripPrefix(apiPrefix, proxy)
		r.Handle(apiPrefix+"/"+resource, handler)
		r.Handle(apiPrefix+"/"+resource+"/*", handler)
	}
	return nil
}
