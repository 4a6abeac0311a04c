package config

// Config represents the core pushsync configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	VAPID    VAPIDConfig    `mapstructure:"vapid"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Client   ClientConfig   `mapstructure:"client"`
	LogJSON  bool           `mapstructure:"log_json"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the pushsync HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// KeyRequestsPerSecond rate-limits the unauthenticated VAPID public key
	// endpoint. Burst is KeyRequestsBurst.
	KeyRequestsPerSecond float64 `mapstructure:"key_requests_per_second"`
	KeyRequestsBurst     int     `mapstructure:"key_requests_burst"`
}

// VAPIDConfig holds the server's VAPID key pair. Keys are URL-safe base64
// without padding. When both are empty the server generates a pair at first
// start and persists it to the key file.
type VAPIDConfig struct {
	PublicKey  string `mapstructure:"public_key"`
	PrivateKey string `mapstructure:"private_key"`
	Subject    string `mapstructure:"subject"` // mailto: or https: operator contact
	KeyFile    string `mapstructure:"key_file"`
}

// AgentConfig configures the background agent process
type AgentConfig struct {
	ServerURL        string `mapstructure:"server_url"`
	StatePath        string `mapstructure:"state_path"` // platform-owned subscription state
	ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
}

// ClientConfig configures the client library / CLI commands
type ClientConfig struct {
	ServerURL string `mapstructure:"server_url"`
	Token     string `mapstructure:"token"` // bearer credential
	UserAgent string `mapstructure:"user_agent"`
}

// Server port constants
const (
	DefaultServerPort = 8744 // above privileged range, unlikely to collide
)
