package handlers

import (
	"encoding/json"
	"net/http"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
)

// ServiceInfo describes the running service and how its check pipeline is
// configured. It is fixed at startup.
type ServiceInfo struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Commit      string   `json:"git_commit"`
	BuildDate   string   `json:"build_date"`
	Persistence string   `json:"persistence,omitempty"`
	Simulation  bool     `json:"simulation"`
	TLDCount    int      `json:"tld_count"`
	Channels    []string `json:"notification_channels,omitempty"`
}

// VersionResponse is the body of GET /version.
type VersionResponse struct {
	Service      ServiceInfo `json:"service"`
	Dependencies DepInfo     `json:"dependencies"`
	Runtime      RuntimeInfo `json:"runtime"`
}

// DepInfo reports the gofulmen and Crucible versions compiled in.
type DepInfo struct {
	Gofulmen string `json:"gofulmen"`
	Crucible string `json:"crucible"`
}

// RuntimeInfo reports the Go runtime.
type RuntimeInfo struct {
	GoVersion     string `json:"go_version"`
	Platform      string `json:"platform"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
}

// VersionHandler serves GET /version for info. Missing build fields read as
// "dev" and "unknown".
func VersionHandler(info ServiceInfo) http.HandlerFunc {
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	deps := crucible.GetVersion()

	return func(w http.ResponseWriter, r *http.Request) {
		response := VersionResponse{
			Service: info,
			Dependencies: DepInfo{
				Gofulmen: deps.Gofulmen,
				Crucible: deps.Crucible,
			},
			Runtime: RuntimeInfo{
				GoVersion:     runtime.Version(),
				Platform:      runtime.GOOS + "/" + runtime.GOARCH,
				NumCPU:        runtime.NumCPU(),
				NumGoroutines: runtime.NumGoroutine(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
