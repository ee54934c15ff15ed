// SPDX-License-Identifier: MIT

package provider

import (
	"fmt"
	"net/http"

	"github.com/celsiusnarhwal/takagi/pkg/config"
)

// RootHandler handles GET / per ROOT_REDIRECT: the project repository, the
// upstream account-settings page, the docs page, or nothing at all.
func (h *Handler) RootHandler(w http.ResponseWriter, req *http.Request) {
	rc := h.context(req)

	var target string
	switch h.settings.RootRedirect {
	case config.RootRedirectRepo:
		target = h.settings.Service.RepoURL
	case config.RootRedirectSettings:
		target = h.settings.Service.SettingsURL
	case config.RootRedirectDocs:
		target = rc.URLFor("/docs")
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	http.Redirect(w, req, target, http.StatusFound)
}

// HealthHandler handles GET /health: an empty 200, no matter what. It must
// never depend on upstream reachability.
func (*Handler) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// docsPage embeds the Scalar API reference, pointed at the service's own
// OpenAPI document.
const docsPage = `<!doctype html>
<html>
  <head>
    <title>%s</title>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
  </head>
  <body>
    <div id="app"></div>
    <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
    <script>
      Scalar.createApiReference('#app', {
        url: '%s',
        hideModels: true,
        hideClientButton: true,
      })
    </script>
  </body>
</html>
`

// DocsHandler handles GET /docs, gated by ENABLE_DOCS.
func (h *Handler) DocsHandler(w http.ResponseWriter, req *http.Request) {
	if !h.settings.EnableDocs {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	rc := h.context(req)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, docsPage, h.settings.Service.Name, rc.URLFor("/openapi.json"))
}
