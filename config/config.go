package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
}

type ServerConfig struct {
	Port         int `toml:"port"`
	MaxClients   int `toml:"max_clients"`
	WriteTimeout int `toml:"write_timeout"` // seconds
}

type StorageConfig struct {
	DataDir         string `toml:"data_dir"`         // user.txt and group.txt
	ConversationDir string `toml:"conversation_dir"` // per-conversation log files
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
	File   string `toml:"file"`   // extra log sink, empty for stderr only
}

// Load reads the config file at path and applies environment overrides.
// A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if portStr := os.Getenv("IPCHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Server.Port = port
		}
	}

	if dataDir := os.Getenv("IPCHAT_DATA_DIR"); dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	if convDir := os.Getenv("IPCHAT_CONVERSATION_DIR"); convDir != "" {
		cfg.Storage.ConversationDir = convDir
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			MaxClients:   100,
			WriteTimeout: 30,
		},
		Storage: StorageConfig{
			DataDir:         "data",
			ConversationDir: "conversation",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			File:   "server.log",
		},
	}
}
