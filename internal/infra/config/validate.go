package config

import (
	"fmt"
	"net/url"
	"strings"

	"triage-ai/internal/domain"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. Missing credentials are
// reported first and on their own as domain.ErrMissingCredentials, so the
// caller can exit cleanly. Otherwise it returns a *ValidationError listing
// every problem found.
func Validate(cfg *Config) error {
	if err := validateCredentials(cfg); err != nil {
		return err
	}

	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateMCP(cfg, ve)
	validateSheets(cfg, ve)
	validateLogger(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateCredentials(cfg *Config) error {
	var missing []string
	if cfg.LLM.Provider.APIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	if cfg.MCP.TavilyAPIKey == "" {
		missing = append(missing, "TAVILY_API_KEY")
	}
	if len(missing) == 0 {
		return nil
	}
	return domain.NewDomainError("config.validate", domain.ErrMissingCredentials, strings.Join(missing, ", "))
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxTurns <= 0 {
		ve.Add("agent.max_turns must be > 0")
	}
	if cfg.Agent.MaxHandoffs <= 0 {
		ve.Add("agent.max_handoffs must be > 0")
	}
	if cfg.Agent.HistoryMaxTokens < 0 {
		ve.Add("agent.history_max_tokens must be >= 0")
	}
	if cfg.Agent.TurnTimeout < 0 {
		ve.Add("agent.turn_timeout must be >= 0")
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	p := cfg.LLM.Provider
	if p.Model == "" {
		ve.Add("llm.provider.model must not be empty")
	}
	if p.BaseURL == "" {
		ve.Add("llm.provider.base_url must not be empty")
	} else if u, err := url.Parse(p.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		ve.Add("llm.provider.base_url %q is not an absolute URL", p.BaseURL)
	}
}

func validateMCP(cfg *Config, ve *ValidationError) {
	if len(cfg.MCP.Servers) == 0 {
		ve.Add("mcp.servers must configure at least one server")
	}
	if cfg.MCP.CallTimeout <= 0 {
		ve.Add("mcp.call_timeout must be > 0")
	}
	if cfg.MCP.RateLimit < 0 {
		ve.Add("mcp.rate_limit must be >= 0")
	}
	seen := make(map[string]bool)
	for i, srv := range cfg.MCP.Servers {
		if srv.Name == "" {
			ve.Add("mcp.servers[%d].name must not be empty", i)
			continue
		}
		if seen[srv.Name] {
			ve.Add("mcp.servers[%d]: duplicate server name %q", i, srv.Name)
		}
		seen[srv.Name] = true

		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				ve.Add("mcp.servers[%d] (%s): command is required for stdio transport", i, srv.Name)
			}
		case "http":
			if srv.URL == "" {
				ve.Add("mcp.servers[%d] (%s): url is required for http transport", i, srv.Name)
			}
		default:
			ve.Add("mcp.servers[%d] (%s): transport %q is invalid (want: stdio, http)", i, srv.Name, srv.Transport)
		}
	}
}

func validateSheets(cfg *Config, ve *ValidationError) {
	if cfg.Sheets.SpreadsheetID == "" {
		ve.Add("sheets.spreadsheet_id must not be empty")
	}
	if cfg.Sheets.CredentialsFile == "" && cfg.Sheets.Endpoint == "" {
		ve.Add("sheets.credentials_file must not be empty")
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if lvl := strings.ToLower(cfg.Logger.Level); lvl != "" && !validLogLevels[lvl] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "", "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want: text, json)", cfg.Logger.Format)
	}
}
