package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config contains all of the configuration options available to the romgate
// server components.
type Config struct {
	// Hostname or IP address on which the server will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Port on which the gate server will listen.
	Port int `mapstructure:"port"`
	// Maximum number of concurrent connections the server will allow.
	MaxConnections int `mapstructure:"max_connections"`
	// Full path to file to which logs will be written. Blank will write to stdout.
	LogFilePath string `mapstructure:"log_file_path"`
	// Minimum level of a log required to be written. Options: debug, info, warn, error
	LogLevel string `mapstructure:"log_level"`

	TLS struct {
		// X.509 certificate and key presented to connecting clients.
		CertificateFile string `mapstructure:"certificate_file"`
		KeyFile         string `mapstructure:"key_file"`
		// Seconds a new connection has to complete the TLS handshake.
		HandshakeTimeout int `mapstructure:"handshake_timeout"`
	} `mapstructure:"tls"`

	Database struct {
		// Database engine; either "sqlite" or "postgres".
		Engine string `mapstructure:"engine"`
		// Path to the database file when the sqlite engine is selected.
		File string `mapstructure:"file"`
		// Hostname of the Postgres database instance.
		Host string `mapstructure:"host"`
		// Port on db_host on which the Postgres instance is accepting connections.
		Port int `mapstructure:"port"`
		// Name of the database in Postgres for romgate.
		Name string `mapstructure:"name"`
		// Username and password of a user with full RW privileges to ${db_name}.
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		// Set to verify-full if the Postgres instance supports SSL.
		SSLMode string `mapstructure:"sslmode"`
	} `mapstructure:"database"`

	Vault struct {
		// Directory containing the ROM images offered to clients.
		RomDir string `mapstructure:"rom_dir"`
		// Directory containing the info pages (Text/ and Art/ subdirectories).
		InfoDir string `mapstructure:"info_dir"`
	} `mapstructure:"vault"`

	RateLimiter struct {
		// Enables request rate limiting and the ban escalation that goes with it.
		Enabled bool `mapstructure:"enabled"`
		// Maximum number of messages allowed per origin within one window.
		MaxRequests int `mapstructure:"max_requests"`
		// Window length in seconds.
		TimeWindow int `mapstructure:"time_window"`
		// How long soft and full bans last, in seconds.
		BanDuration int `mapstructure:"ban_duration"`
	} `mapstructure:"rate_limiter"`

	Debugging struct {
		// Enable extra info-providing mechanisms for the server.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		// Port on which a pprof server will be started if debug mode is enabled.
		PprofPort int `mapstructure:"pprof_port"`
		// Log decoded frames to stdout.
		PacketLoggingEnabled bool `mapstructure:"packet_logging_enabled"`
		// Enable database-level query logging.
		DatabaseLoggingEnabled bool `mapstructure:"database_logging_enabled"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "ROMGATE"

// LoadConfig initializes Viper with the contents of the config file under configPath.
func LoadConfig(configPath string) *Config {
	viper.AddConfigPath(configPath)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetEnvPrefix(envVarPrefix)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("error reading config file: %v\n", err)
		os.Exit(1)
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, database.host can be set using: <envVarPrefix>_DATABASE_HOST
	for _, k := range viper.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := viper.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			fmt.Printf("error binding %s to %s\n", k, envVarPrefix+"_"+envVar)
			os.Exit(1)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		fmt.Printf("error unmarshaling config object: %v\n", err)
		os.Exit(1)
	}
	return config
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// DatabaseURL returns a Postgres database URL generated from the provided
// config values. Only meaningful when the postgres engine is selected.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		databaseURITemplate,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Username,
		c.Database.Password,
		c.Database.SSLMode,
	)
}

// ListenAddress returns the host:port pair the gate server binds to.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf("%s:%v", c.Hostname, c.Port)
}

// HandshakeTimeout returns the configured TLS handshake bound, defaulting to
// 10 seconds when unset.
func (c *Config) HandshakeTimeout() time.Duration {
	if c.TLS.HandshakeTimeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TLS.HandshakeTimeout) * time.Second
}

// WindowDuration returns the rate limiter window as a time.Duration.
func (c *Config) WindowDuration() time.Duration {
	return time.Duration(c.RateLimiter.TimeWindow) * time.Second
}

// BanDuration returns the configured ban length as a time.Duration.
func (c *Config) BanDuration() time.Duration {
	return time.Duration(c.RateLimiter.BanDuration) * time.Second
}
