package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	dataDir := filepath.Join(home, ".pushsync")

	// Database defaults
	v.SetDefault("database.path", filepath.Join(dataDir, "pushsync.db"))

	// Server defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
	})
	v.SetDefault("server.key_requests_per_second", 5.0)
	v.SetDefault("server.key_requests_burst", 10)

	// VAPID defaults: keys empty means generate-and-persist at first start
	v.SetDefault("vapid.subject", "mailto:ops@localhost")
	v.SetDefault("vapid.key_file", filepath.Join(dataDir, "vapid.toml"))

	// Agent defaults
	v.SetDefault("agent.server_url", "http://localhost:8744")
	v.SetDefault("agent.state_path", filepath.Join(dataDir, "agent_state.json"))
	v.SetDefault("agent.reconnect_seconds", 15)

	// Client defaults
	v.SetDefault("client.server_url", "http://localhost:8744")
	v.SetDefault("client.user_agent", "pushsync-cli")

	v.SetDefault("log_json", false)
}
