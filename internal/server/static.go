package server

import (
	"embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed static/index.html
var staticFS embed.FS

// dashboard serves the single-page UI. No caching: the page is tiny and a
// stale dashboard after an upgrade is worse than the extra fetch.
func (s *Server) dashboard(c *gin.Context) {
	page, err := staticFS.ReadFile("static/index.html")
	if err != nil {
		respondError(c, http.StatusNotFound, "not found")
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "text/html; charset=utf-8", page)
}
