package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// SimulationDefaults are the tunable simulation parameters. They can be
// set in a YAML file and overridden per run from the CLI.
type SimulationDefaults struct {
	CohortSize        int     `yaml:"cohort_size"`
	Accounts          int     `yaml:"accounts"`
	InitialBalance    float64 `yaml:"initial_balance"`
	MinAUM            float64 `yaml:"min_aum"`
	StopLossThreshold float64 `yaml:"stop_loss_threshold"`
	WindowDays        int     `yaml:"window_days"`
	Strategy          string  `yaml:"strategy"`
	Workers           int     `yaml:"workers"`
}

// Config holds application configuration
type Config struct {
	SourceDBPath  string
	ResultsDBPath string
	LogLevel      string
	LogFile       string
	DevMode       bool
	Simulation    SimulationDefaults
}

// Load reads configuration from the environment plus an optional YAML
// file with simulation defaults. Environment wins over file, file over
// built-in defaults.
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		SourceDBPath:  getEnv("SOURCE_DB_PATH", "./data/source.db"),
		ResultsDBPath: getEnv("RESULTS_DB_PATH", "./data/results.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		DevMode:       getEnvAsBool("DEV_MODE", false),
		Simulation: SimulationDefaults{
			CohortSize:        16,
			Accounts:          100,
			InitialBalance:    1000.0,
			MinAUM:            0.01,
			StopLossThreshold: -0.10,
			WindowDays:        7,
			Strategy:          "roi",
			Workers:           8,
		},
	}

	if path := getEnv("CASTERLY_CONFIG", "./casterly.yaml"); path != "" {
		if err := cfg.loadSimulationFile(path); err != nil {
			return nil, err
		}
	}

	// Environment overrides for the most commonly tuned knobs
	cfg.Simulation.CohortSize = getEnvAsInt("COHORT_SIZE", cfg.Simulation.CohortSize)
	cfg.Simulation.Accounts = getEnvAsInt("CLIENT_ACCOUNTS", cfg.Simulation.Accounts)
	cfg.Simulation.Workers = getEnvAsInt("SIM_WORKERS", cfg.Simulation.Workers)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSimulationFile merges simulation defaults from a YAML file.
// A missing file is not an error; a malformed one is.
func (c *Config) loadSimulationFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &c.Simulation); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.SourceDBPath == "" {
		return fmt.Errorf("SOURCE_DB_PATH is required")
	}
	if c.ResultsDBPath == "" {
		return fmt.Errorf("RESULTS_DB_PATH is required")
	}
	if c.Simulation.CohortSize <= 0 {
		return fmt.Errorf("cohort_size must be positive, got %d", c.Simulation.CohortSize)
	}
	if c.Simulation.Accounts < 0 {
		return fmt.Errorf("accounts must not be negative, got %d", c.Simulation.Accounts)
	}
	if c.Simulation.InitialBalance <= 0 {
		return fmt.Errorf("initial_balance must be positive, got %f", c.Simulation.InitialBalance)
	}
	if c.Simulation.StopLossThreshold >= 0 {
		return fmt.Errorf("stop_loss_threshold must be negative, got %f", c.Simulation.StopLossThreshold)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
