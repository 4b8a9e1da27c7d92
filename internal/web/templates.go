package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
)

//go:embed templates/*.html
var templateFiles embed.FS

// templateFuncs provides helper functions available in all templates.
var templateFuncs = template.FuncMap{
	"markdown":   renderMarkdown,
	"formatTime": formatTime,
}

// loadTemplates parses the layout and each page template. Each page
// template is a clone of the layout with the page-specific blocks
// overridden. Panics on syntax errors so that startup fails fast.
func loadTemplates() map[string]*template.Template {
	layout := template.Must(
		template.New("layout.html").Funcs(templateFuncs).ParseFS(templateFiles, "templates/layout.html"),
	)

	pages := []string{"login.html", "chat.html"}
	result := make(map[string]*template.Template, len(pages))

	for _, page := range pages {
		t := template.Must(layout.Clone())
		template.Must(t.ParseFS(templateFiles, "templates/"+page))
		result[page] = t
	}

	return result
}

// render executes a named page template wrapped in the shared layout.
func (s *Server) render(w http.ResponseWriter, name string, data any) {
	t, ok := s.templates[name]
	if !ok {
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := t.ExecuteTemplate(w, "layout.html", data); err != nil {
		s.logger.Error("template render failed", "template", name, "error", err)
	}
}

// renderMarkdown converts assistant markdown to HTML. goldmark escapes
// raw HTML by default, so model output cannot inject markup.
func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String())
}

// formatTime renders a timestamp for the conversation sidebar.
func formatTime(t time.Time) string {
	return t.Local().Format("01-02 15:04")
}
