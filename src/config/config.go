package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dynamic-tool-calling-protocol/go-dtcp/src/cache"
)

// Config holds server settings loaded from a YAML file.
type Config struct {
	// RegistryURL is the base URL of the schema registry's HTTP API.
	RegistryURL string `yaml:"registry_url"`
	// RegistryGRPCAddr, when set, selects the gRPC fetcher instead.
	RegistryGRPCAddr string `yaml:"registry_grpc_addr"`
	// CacheCapacity bounds the descriptor cache.
	CacheCapacity int `yaml:"cache_capacity"`
	// Listen is the TCP address the server accepts connections on; empty
	// means stdio only.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		RegistryURL:   "https://api.dtcp.dev",
		CacheCapacity: cache.DefaultCapacity,
	}
}

// Load reads a YAML config file, filling unset fields with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.CacheCapacity <= 0 {
		cfg.CacheCapacity = cache.DefaultCapacity
	}
	return cfg, nil
}

// VariableNotFound is returned when a requested variable isn't present.
type VariableNotFound struct {
	VariableName string
}

func (e *VariableNotFound) Error() string {
	return fmt.Sprintf("variable %q not found; add it to the environment or your .env file", e.VariableName)
}

// VariablesConfig is the interface for any variable-loading strategy.
type VariablesConfig interface {
	// Load returns all variables available from this provider.
	Load() (map[string]string, error)
	// Get returns a single variable value or an error if not present.
	Get(key string) (string, error)
}

// DotEnv implements VariablesConfig by loading a .env file.
type DotEnv struct {
	EnvFilePath string
}

// NewDotEnv points a DotEnv loader at path.
func NewDotEnv(path string) *DotEnv {
	return &DotEnv{EnvFilePath: path}
}

// Load reads the .env file and returns a map of key to value.
func (d *DotEnv) Load() (map[string]string, error) {
	return godotenv.Read(d.EnvFilePath)
}

// Get loads the file and looks up a single key, falling back to the
// process environment.
func (d *DotEnv) Get(key string) (string, error) {
	vars, err := d.Load()
	if err == nil {
		if val, ok := vars[key]; ok {
			return val, nil
		}
	}
	if val := os.Getenv(key); val != "" {
		return val, nil
	}
	return "", &VariableNotFound{VariableName: key}
}
