package handler

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html
var templateFS embed.FS

// Templates parses the embedded HTML pages for gin's renderer
func Templates() *template.Template {
	return template.Must(template.ParseFS(templateFS, "templates/*.html"))
}

// Index handles GET /
// Serves the submission form. The page itself is public; the calls it makes
// carry the bearer token typed into it.
func (h *AutomationHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Service":      h.serviceName,
		"AuthRequired": h.authRequired,
	})
}
