package config

type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Scanner  ScannerConfig  `json:"scanner"`
	Storage  StorageConfig  `json:"storage"`
	Sessions SessionsConfig `json:"sessions"`
	Users    UsersConfig    `json:"users"`
	Pprof    *PprofConfig   `json:"pprof,omitempty"`
}

// ServerConfig controls the dashboard HTTP API.
//
// TokenTTL is a Go duration string (e.g. "168h" for 7 days).
type ServerConfig struct {
	Addr      string `json:"addr"`
	JWTSecret string `json:"jwt_secret"` // do not log
	TokenTTL  string `json:"token_ttl,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// ScannerConfig controls the due-task scanner and the delivery queues.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
//
// Defaults (when fields are omitted/zero):
//   - interval: "10s"
//   - send_delay: "500ms"
type ScannerConfig struct {
	Enabled   bool   `json:"enabled"`
	Interval  string `json:"interval,omitempty"`
	SendDelay string `json:"send_delay,omitempty"`
}

// StorageConfig controls the per-tenant document store.
//
// Driver values:
//   - "file": one JSON document per tenant under Path
//   - "sqlite": single database file (optional build tag)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SessionsConfig controls per-tenant bot sessions.
//
// Driver values:
//   - "telegram": telebot long-poll session per tenant (token required)
//   - "mock": canned directory, always ready (development)
type SessionsConfig struct {
	Driver     string          `json:"driver"`
	RatePerSec int             `json:"rate_per_sec,omitempty"`
	Telegram   *TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	// Tokens maps tenant name to that tenant's bot token.
	Tokens map[string]string `json:"tokens"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type UsersConfig struct {
	Path string `json:"path"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:6060").
type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
}
