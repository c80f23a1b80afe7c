package web

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templateFiles embed.FS

// PageData carries the fields every page needs.
type PageData struct {
	BrandName string
	ActiveNav string
}

// ChatData is the template context for the chat page.
type ChatData struct {
	PageData
	Model string
}

// pageNames lists the templates layered over layout.html.
var pageNames = []string{"chat.html", "dashboard.html"}

// parsePages builds one template set per page, each a copy of the
// layout with that page's blocks defined. A parse error is a build
// defect, so it panics.
func parsePages() map[string]*template.Template {
	funcs := template.FuncMap{
		"formatDuration": formatDuration,
		"formatTime":     formatTime,
		"pct":            pct,
		"truncate":       truncate,
	}
	base := template.New("layout.html").Funcs(funcs)
	base = template.Must(base.ParseFS(templateFiles, "templates/layout.html"))

	sets := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		set := template.Must(base.Clone())
		sets[name] = template.Must(set.ParseFS(templateFiles, "templates/"+name))
	}
	return sets
}

// render writes page name. Requests with ?partial=1 (the dashboard's
// auto-refresh) get only the "content" block.
func (s *WebServer) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	set := s.templates[name]
	if set == nil {
		http.Error(w, "unknown page "+name, http.StatusInternalServerError)
		return
	}
	entry := "layout.html"
	if r.URL.Query().Get("partial") == "1" {
		entry = "content"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := set.ExecuteTemplate(w, entry, data); err != nil {
		s.logger.Error("page render failed", "page", name, "entry", entry, "error", err)
	}
}

func (s *WebServer) handleChat(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, "chat.html", ChatData{
		PageData: PageData{BrandName: s.brandName, ActiveNav: "chat"},
		Model:    s.model,
	})
}
