// SPDX-License-Identifier: MIT

package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/celsiusnarhwal/takagi/pkg/logger"
	"github.com/celsiusnarhwal/takagi/pkg/networking"
)

// trustedHost rejects requests whose observed host is not on the allowlist.
// Loopback hosts always pass; config guarantees they are on the list.
func (h *Handler) trustedHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rc := h.context(req)
		if !h.settings.AllowedHosts.Matches(rc.Host) {
			writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
				fmt.Sprintf("host %q is not allowed; set %s_ALLOWED_HOSTS to permit it", rc.Host, h.settings.Service.EnvPrefix))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// secureTransport enforces HTTPS for external requests. Plain HTTP is
// permitted only for loopback origins when TREAT_LOOPBACK_AS_SECURE is on.
func (h *Handler) secureTransport(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rc := h.context(req)
		secure := rc.Scheme == networking.HttpsScheme ||
			(h.settings.TreatLoopbackAsSecure && networking.IsLocalhost(rc.Host))
		if !secure {
			writeOAuthError(w, http.StatusBadRequest, errInvalidRequest,
				fmt.Sprintf("%s must be served over HTTPS; if you are using a reverse proxy, make sure it sets X-Forwarded-Proto", h.settings.Service.Name))
			return
		}
		next.ServeHTTP(w, req)
	})
}

// requestLogger records one line per request.
func (*Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		logger.Infow("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(req.Context()),
		)
	})
}
