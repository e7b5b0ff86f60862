package templates

import (
	"embed"
	"html/template"
)

//go:embed *.html
var FS embed.FS

// LoadTemplates parses the server and device setup pages.
func LoadTemplates() (*template.Template, error) {
	return template.ParseFS(FS, "*.html")
}
