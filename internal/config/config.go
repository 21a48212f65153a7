package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Analyzer      AnalyzerConfig      `mapstructure:"analyzer"`
	Transient     TransientConfig     `mapstructure:"transient"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
	MQTT          MQTTConfig          `mapstructure:"mqtt"`
	InfluxDB      InfluxDBConfig      `mapstructure:"influxdb"`
	DeviceMonitor DeviceMonitorConfig `mapstructure:"device_monitor"`
}

type ServerConfig struct {
	GRPCPort        int           `mapstructure:"grpc_port"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// UserConfig seeds a login account. PasswordHash is an argon2id hash.
type UserConfig struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

type AuthConfig struct {
	JWTSecretEnv           string        `mapstructure:"jwt_secret_env"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `mapstructure:"refresh_token_ttl"`
	MaxFailedLoginAttempts int           `mapstructure:"max_failed_login_attempts"`
	AccountLockDuration    time.Duration `mapstructure:"account_lock_duration"`
	Users                  []UserConfig  `mapstructure:"users"`
}

type GPIBConfig struct {
	Port            string        `mapstructure:"port"`
	Baud            int           `mapstructure:"baud"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	HP4294AAddr     int           `mapstructure:"hp4294a_address"`
	NovocontrolAddr int           `mapstructure:"novocontrol_address"`
}

type EmStatConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	LineTimeout time.Duration `mapstructure:"line_timeout"`
}

type I2CConfig struct {
	Bus        string `mapstructure:"bus"`
	ATmega     uint16 `mapstructure:"atmega_address"`
	ATtinyFreq uint16 `mapstructure:"attiny_freq_address"`
	ATtinyVolt uint16 `mapstructure:"attiny_volt_address"`
}

type TransportConfig struct {
	GPIB         GPIBConfig        `mapstructure:"gpib"`
	EmStat       EmStatConfig      `mapstructure:"emstat"`
	I2C          I2CConfig         `mapstructure:"i2c"`
	WriteSpacing time.Duration     `mapstructure:"write_spacing"`
	GPIO         map[string]string `mapstructure:"gpio"`
}

type AnalyzerConfig struct {
	// Simulate replaces every instrument with in-process fakes.
	Simulate     bool          `mapstructure:"simulate"`
	SimDelay     time.Duration `mapstructure:"sim_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollTimeout  time.Duration `mapstructure:"poll_timeout"`
}

type TransientConfig struct {
	ListenerQueue int `mapstructure:"listener_queue"`
}

type ArchiveConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Bucket   string `mapstructure:"bucket"`
	Endpoint string `mapstructure:"endpoint"`
	Region   string `mapstructure:"region"`
	Prefix   string `mapstructure:"prefix"`
}

type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         byte   `mapstructure:"qos"`
}

type InfluxDBConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	Token         string `mapstructure:"token"`
	Org           string `mapstructure:"org"`
	Bucket        string `mapstructure:"bucket"`
	BatchSize     uint   `mapstructure:"batch_size"`
	FlushInterval uint   `mapstructure:"flush_interval_ms"`
}

type DeviceMonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// OLC_DATABASE_HOST overrides database.host
var envReplacer = strings.NewReplacer(".", "_")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "openlab")
	v.SetDefault("database.user", "openlab")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("auth.jwt_secret_env", "JWT_SECRET")
	v.SetDefault("auth.access_token_ttl", "60m")
	v.SetDefault("auth.refresh_token_ttl", "168h")
	v.SetDefault("auth.max_failed_login_attempts", 5)
	v.SetDefault("auth.account_lock_duration", "15m")

	// Bench: Prologix GPIB-USB, EmStat am zweiten USB-Port, Relaisplatine auf i2c-1
	v.SetDefault("transport.gpib.port", "/dev/ttyUSB0")
	v.SetDefault("transport.gpib.baud", 115200)
	v.SetDefault("transport.gpib.read_timeout", "3s")
	v.SetDefault("transport.gpib.hp4294a_address", 17)
	v.SetDefault("transport.gpib.novocontrol_address", 6)
	v.SetDefault("transport.emstat.port", "/dev/ttyUSB1")
	v.SetDefault("transport.emstat.baud", 230400)
	v.SetDefault("transport.emstat.line_timeout", "10s")
	v.SetDefault("transport.i2c.bus", "1")
	v.SetDefault("transport.i2c.atmega_address", 0x10)
	v.SetDefault("transport.i2c.attiny_freq_address", 0x11)
	v.SetDefault("transport.i2c.attiny_volt_address", 0x12)
	v.SetDefault("transport.write_spacing", "10ms")

	v.SetDefault("analyzer.simulate", false)
	v.SetDefault("analyzer.sim_delay", "5ms")
	v.SetDefault("analyzer.poll_interval", "100ms")
	v.SetDefault("analyzer.poll_timeout", "5m")

	v.SetDefault("transient.listener_queue", 64)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.region", "eu-central-1")
	v.SetDefault("archive.prefix", "executions")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "openlabcore")
	v.SetDefault("mqtt.topic_prefix", "openlab")
	v.SetDefault("mqtt.qos", 1)

	v.SetDefault("influxdb.enabled", false)
	v.SetDefault("influxdb.url", "http://localhost:8086")
	v.SetDefault("influxdb.org", "lab")
	v.SetDefault("influxdb.bucket", "transients")
	v.SetDefault("influxdb.batch_size", 500)
	v.SetDefault("influxdb.flush_interval_ms", 1000)

	v.SetDefault("device_monitor.interval", "5s")
}

// Load reads the YAML file at path. Values can be overridden with OLC_
// environment variables, also from a .env file in the working directory.
func Load(path string) (*Config, error) {
	// .env ist optional
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("OLC")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// Default returns the configuration without a file, for headless tools.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	// Defaults decode immer
	_ = v.Unmarshal(&config)
	return &config
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

const devSecret = "dev-secret-change-in-production-min-32-chars"

// GetJWTSecret reads the signing secret from the configured environment
// variable and falls back to a development secret.
func (a *AuthConfig) GetJWTSecret() string {
	envVar := a.JWTSecretEnv
	if envVar == "" {
		envVar = "JWT_SECRET"
	}

	secret := os.Getenv(envVar)
	if secret == "" {
		return devSecret
	}
	return secret
}

func (a *AuthConfig) IsProductionReady() bool {
	secret := a.GetJWTSecret()
	return secret != devSecret && len(secret) >= 32
}
