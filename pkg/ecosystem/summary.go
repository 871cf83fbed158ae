package ecosystem

// ConfigSummary provides a high-level overview of configuration
type ConfigSummary struct {
	TotalApps       int          `json:"total_apps"`
	AutorestartApps int          `json:"autorestart_apps"`
	WatchedApps     int          `json:"watched_apps"`
	Apps            []AppSummary `json:"apps"`
	Error           string       `json:"error,omitempty"`
}

// AppSummary provides a summary of one app's configuration
type AppSummary struct {
	Name        string `json:"name"`
	Cwd         string `json:"cwd"`
	Command     string `json:"command"`
	Autorestart bool   `json:"autorestart"`
	Watch       bool   `json:"watch"`
	MaxRestarts int    `json:"max_restarts"`
	MinUptime   string `json:"min_uptime"`
}

// GetConfigSummary returns a human-readable summary of the configuration
func GetConfigSummary(config *EcosystemConfig) ConfigSummary {
	if config == nil {
		return ConfigSummary{Error: "configuration is nil"}
	}

	summary := ConfigSummary{
		Apps: make([]AppSummary, 0, len(config.Apps)),
	}

	for _, app := range config.Apps {
		command := app.Script
		if app.Interpreter != "" && app.Interpreter != InterpreterNone {
			command = app.Interpreter + " " + command
		}

		appSummary := AppSummary{
			Name:        app.Name,
			Cwd:         app.Cwd,
			Command:     command,
			Autorestart: app.AutorestartEnabled(),
			Watch:       app.Watch,
			MaxRestarts: app.MaxRestartsValue(),
			MinUptime:   Duration(app.MinUptimeValue()).String(),
		}

		if appSummary.Autorestart {
			summary.AutorestartApps++
		}
		if appSummary.Watch {
			summary.WatchedApps++
		}
		summary.Apps = append(summary.Apps, appSummary)
	}

	summary.TotalApps = len(summary.Apps)
	return summary
}
