package config

import (
	"fmt"
	"log"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

func init() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, falling back to system environment variables")
	}
}

// Config is loaded from the environment once at startup.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,required"`
	StoragePath  string `env:"STORAGE_PATH" envDefault:"datastore.json"`

	DashboardAddr string `env:"DASHBOARD_ADDR" envDefault:":8790"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE"`

	// Engine defaults.
	DefaultPrefix       string `env:"DEFAULT_PREFIX" envDefault:"!"`
	MaxCodeBytes        int    `env:"MAX_CODE_BYTES" envDefault:"16384"`
	MaxCommandsPerGuild int    `env:"MAX_COMMANDS_PER_GUILD" envDefault:"200"`

	// Sandbox limits.
	ExecTimeoutMs      int    `env:"EXEC_TIMEOUT_MS" envDefault:"5000"`
	ExecMemoryBytes    int64  `env:"EXEC_MEMORY_BYTES" envDefault:"67108864"`
	OutputByteCap      int    `env:"OUTPUT_BYTE_CAP" envDefault:"1900"`
	MaxConcurrentExecs int64  `env:"MAX_CONCURRENT_EXECS" envDefault:"8"`
	QueueWaitMs        int    `env:"QUEUE_WAIT_MS" envDefault:"2000"`
	PythonBin          string `env:"PYTHON_BIN" envDefault:"python3"`

	// Throughput ceilings (fixed windows).
	UserRateLimit   int `env:"USER_RATE_LIMIT" envDefault:"10"`
	GuildRateLimit  int `env:"GUILD_RATE_LIMIT" envDefault:"100"`
	RateWindowMs    int `env:"RATE_WINDOW_MS" envDefault:"60000"`
	SweepIntervalMs int `env:"SWEEP_INTERVAL_MS" envDefault:"60000"`
}

// New parses configuration from the environment.
func New() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}
