package web

import (
	"net/http"
	"slices"
	"time"

	"github.com/nugget/subzero/internal/bridge"
	"github.com/nugget/subzero/internal/buildinfo"
	"github.com/nugget/subzero/internal/tools"
)

// recentTools is how many tool executions the dashboard lists.
const recentTools = 15

// DashboardData is the template context for the runtime overview page.
type DashboardData struct {
	PageData
	Model     string
	PhoneURL  string
	Build     map[string]string
	Uptime    time.Duration
	HasBridge bool
	Bridge    bridge.Status
	Tools     []tools.LogEntry
}

// handleDashboard renders bridge health, the queue and recent tool
// executions, newest first.
func (s *WebServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		PageData: PageData{
			BrandName: s.brandName,
			ActiveNav: "dashboard",
		},
		Model:    s.model,
		PhoneURL: s.phoneURL,
		Build:    buildinfo.Info(),
		Uptime:   buildinfo.Uptime(),
	}

	if s.statusFunc != nil {
		data.HasBridge = true
		data.Bridge = s.statusFunc()
	}
	if s.toolsFunc != nil {
		log := s.toolsFunc()
		if len(log) > recentTools {
			log = log[len(log)-recentTools:]
		}
		data.Tools = slices.Clone(log)
		slices.Reverse(data.Tools)
	}

	s.render(w, r, "dashboard.html", data)
}
