package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent"`
	LLM     LLMConfig     `yaml:"llm"`
	MCP     MCPConfig     `yaml:"mcp"`
	Sheets  SheetsConfig  `yaml:"sheets"`
	Console ConsoleConfig `yaml:"console"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
}

// AgentConfig controls the turn loop and the agent policies.
type AgentConfig struct {
	MaxTurns         int           `yaml:"max_turns"`          // oracle calls per user turn
	MaxHandoffs      int           `yaml:"max_handoffs"`       // handoffs per user turn
	HistoryMaxTokens int           `yaml:"history_max_tokens"` // 0 = unbounded
	TurnTimeout      time.Duration `yaml:"turn_timeout"`       // 0 = no deadline
	// Instructions overrides the built-in policy text, keyed by agent name.
	Instructions map[string]string `yaml:"instructions,omitempty"`
}

// LLMConfig holds the model oracle settings.
type LLMConfig struct {
	Provider ProviderConfig `yaml:"provider"`
}

// PoolConfig holds HTTP connection pool settings for the LLM provider.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig describes an OpenAI-compatible chat-completions endpoint.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"-"` // GEMINI_API_KEY only
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// MCPConfig holds the tool bridge settings.
type MCPConfig struct {
	Servers      []MCPServer   `yaml:"servers"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
	RateLimit    float64       `yaml:"rate_limit"` // calls per second, 0 = unlimited
	Burst        int           `yaml:"burst"`
	TavilyAPIKey string        `yaml:"-"` // TAVILY_API_KEY only
}

// MCPServer configures an MCP server connection. Args, URL and Env values
// may reference ${TAVILY_API_KEY}; see ResolveServers.
type MCPServer struct {
	Name        string            `yaml:"name"`
	Transport   string            `yaml:"transport"` // "stdio" or "http"
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	PrefixTools bool              `yaml:"prefix_tools,omitempty"`
}

// SheetsConfig holds the spreadsheet persistence settings.
type SheetsConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint,omitempty"` // overrides the API endpoint
}

// ConsoleConfig holds REPL settings.
type ConsoleConfig struct {
	Prompt    string `yaml:"prompt"`
	Render    bool   `yaml:"render"` // render answers as markdown
	WordWrap  int    `yaml:"word_wrap"`
	ShowAgent bool   `yaml:"show_agent"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"` // stderr, stdout, discard or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"`
	Output      string `yaml:"output"` // stdout exporter target, default stderr
	ServiceName string `yaml:"service_name"`
}

// Tavily's remote MCP server reached through the mcp-remote stdio shim.
const tavilyMCPURL = "https://mcp.tavily.com/mcp/?tavilyApiKey=${TAVILY_API_KEY}"

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxTurns:    10,
			MaxHandoffs: 5,
		},
		LLM: LLMConfig{
			Provider: ProviderConfig{
				Name:        "gemini",
				BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai",
				Model:       "gemini-2.0-flash",
				ConnTimeout: 10 * time.Second,
				RespTimeout: 120 * time.Second,
				Pool: PoolConfig{
					MaxIdleConns:        10,
					MaxIdleConnsPerHost: 2,
					IdleConnTimeout:     90 * time.Second,
				},
			},
		},
		MCP: MCPConfig{
			Servers: []MCPServer{{
				Name:      "tavily",
				Transport: "stdio",
				Command:   "npx",
				Args:      []string{"-y", "mcp-remote", tavilyMCPURL},
			}},
			CallTimeout: 2000 * time.Second,
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   "1824ucSfO7zuOqHYqFrgYorjjHZQFY749rbFfZxohZz4",
			CredentialsFile: "gcp_key.json",
		},
		Console: ConsoleConfig{
			Prompt:   "Enter your query (or 'exit' to quit): ",
			Render:   true,
			WordWrap: 100,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "triage.log",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "triage-ai",
		},
	}
}

// Load reads an optional YAML config file, applies env var overrides and
// validates the result. An empty path or a missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			absPath, err := filepath.Abs(path)
			if err != nil {
				return nil, fmt.Errorf("resolve config path: %w", err)
			}
			if err := validatePermissions(absPath); err != nil {
				return nil, err
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps the credential variables and TRIAGE_* env vars to
// config fields.
func ApplyEnvOverrides(cfg *Config) {
	cfg.LLM.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
	cfg.MCP.TavilyAPIKey = os.Getenv("TAVILY_API_KEY")

	if v := os.Getenv("TRIAGE_LLM_BASE_URL"); v != "" {
		cfg.LLM.Provider.BaseURL = v
	}
	if v := os.Getenv("TRIAGE_LLM_MODEL"); v != "" {
		cfg.LLM.Provider.Model = v
	}
	if v := os.Getenv("TRIAGE_SHEETS_SPREADSHEET_ID"); v != "" {
		cfg.Sheets.SpreadsheetID = v
	}
	if v := os.Getenv("TRIAGE_SHEETS_CREDENTIALS_FILE"); v != "" {
		cfg.Sheets.CredentialsFile = v
	}
	if v := os.Getenv("TRIAGE_AGENT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxTurns = n
		}
	}
	if v := os.Getenv("TRIAGE_AGENT_HISTORY_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Agent.HistoryMaxTokens = n
		}
	}
	if v := os.Getenv("TRIAGE_MCP_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.MCP.CallTimeout = d
		}
	}
	if v := os.Getenv("TRIAGE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("TRIAGE_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("TRIAGE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("TRIAGE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// ResolveServers returns the configured MCP servers with ${TAVILY_API_KEY}
// expanded in their URL, args and env values. Other references are left
// as-is.
func (c *MCPConfig) ResolveServers() []MCPServer {
	expand := func(s string) string {
		return os.Expand(s, func(name string) string {
			if name == "TAVILY_API_KEY" {
				return c.TavilyAPIKey
			}
			return "${" + name + "}"
		})
	}

	out := make([]MCPServer, len(c.Servers))
	for i, srv := range c.Servers {
		srv.URL = expand(srv.URL)
		args := make([]string, len(srv.Args))
		for j, a := range srv.Args {
			args[j] = expand(a)
		}
		srv.Args = args
		if len(srv.Env) > 0 {
			env := make(map[string]string, len(srv.Env))
			for k, v := range srv.Env {
				env[k] = expand(v)
			}
			srv.Env = env
		}
		out[i] = srv
	}
	return out
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Group or world writable files are rejected; read bits are fine.
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (must not be group or world writable)", path, mode)
	}
	return nil
}
