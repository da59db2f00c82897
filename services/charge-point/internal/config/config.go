package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	libconfig "chargepoint/libs/config"
)

// Config defines charge point configuration.
type Config struct {
	ChargePoint struct {
		ID         string `yaml:"id" env:"CP_ID" validate:"required,max=20"`
		Connectors int    `yaml:"connectors" env:"CP_CONNECTORS" validate:"min=1,max=8"`
		Firmware   string `yaml:"firmware" env:"CP_FIRMWARE"`
	} `yaml:"chargePoint"`
	CentralSystem struct {
		URL               string        `yaml:"url" env:"CSMS_URL" validate:"required,url"`
		BasicPassword     string        `yaml:"basicPassword" env:"CSMS_BASIC_PASSWORD"`
		JWTSecret         string        `yaml:"jwtSecret" env:"CSMS_JWT_SECRET"`
		CallTimeout       time.Duration `yaml:"callTimeout" env:"CSMS_CALL_TIMEOUT"`
		WriteTimeout      time.Duration `yaml:"writeTimeout" env:"CSMS_WRITE_TIMEOUT"`
		ReconnectInterval time.Duration `yaml:"reconnectInterval" env:"CSMS_RECONNECT_INTERVAL"`
	} `yaml:"centralSystem"`
	Storage struct {
		Backend string `yaml:"backend" env:"STORAGE_BACKEND" validate:"oneof=fs postgres"`
		Dir     string `yaml:"dir" env:"STORAGE_DIR"`
		Prefix  string `yaml:"prefix" env:"STORAGE_PREFIX" validate:"max=40"`
	} `yaml:"storage"`
	Durable struct {
		Backend string `yaml:"backend" env:"DURABLE_BACKEND" validate:"oneof=file redis"`
		Path    string `yaml:"path" env:"DURABLE_PATH"`
	} `yaml:"durable"`
	Database struct {
		DSN     string `yaml:"dsn" env:"POSTGRES_DSN"`
		Journal bool   `yaml:"journal" env:"OCPP_JOURNAL"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr" env:"REDIS_ADDR"`
		Password string `yaml:"password" env:"REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"REDIS_DB"`
	} `yaml:"redis"`
	Loop struct {
		Interval       time.Duration `yaml:"interval" env:"LOOP_INTERVAL"`
		SampleInterval time.Duration `yaml:"sampleInterval" env:"METER_SAMPLE_INTERVAL"`
	} `yaml:"loop"`
	HTTP struct {
		Port           string `yaml:"port" env:"HTTP_PORT"`
		Debug          bool   `yaml:"debug" env:"HTTP_DEBUG"`
		OperatorSecret string `yaml:"operatorSecret" env:"HTTP_OPERATOR_SECRET"`
	} `yaml:"http"`
	Notify struct {
		MQTTURL string `yaml:"mqttUrl" env:"MQTT_URL"`
		NATSURL string `yaml:"natsUrl" env:"NATS_URL"`
	} `yaml:"notify"`
}

var validate = validator.New()

// Load uses shared config loader and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()
	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	cfg := &Config{}
	cfg.ChargePoint.Connectors = 1
	cfg.ChargePoint.Firmware = "0.1.0"
	cfg.Storage.Backend = "fs"
	cfg.Storage.Dir = "data"
	cfg.Storage.Prefix = "meter"
	cfg.Durable.Backend = "file"
	cfg.Durable.Path = "data/state.json"
	cfg.HTTP.Port = "8090"
	return cfg
}

// Validate checks struct tags and cross-field requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Storage.Backend == "postgres" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: postgres storage requires a database DSN")
	}
	if c.Database.Journal && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("config: ocpp journal requires a database DSN")
	}
	if c.Durable.Backend == "redis" && strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("config: redis durable backend requires an address")
	}
	return nil
}

// HTTPAddress returns :port style address.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8090"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// LoopInterval returns the evaluation tick.
func (c *Config) LoopInterval() time.Duration {
	if c.Loop.Interval <= 0 {
		return time.Second
	}
	return c.Loop.Interval
}

// SampleInterval returns the meter sampling period.
func (c *Config) SampleInterval() time.Duration {
	if c.Loop.SampleInterval <= 0 {
		return time.Minute
	}
	return c.Loop.SampleInterval
}

// CallTimeout returns how long a CALL waits for its confirmation.
func (c *Config) CallTimeout() time.Duration {
	if c.CentralSystem.CallTimeout <= 0 {
		return 30 * time.Second
	}
	return c.CentralSystem.CallTimeout
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	if c.CentralSystem.WriteTimeout <= 0 {
		return 10 * time.Second
	}
	return c.CentralSystem.WriteTimeout
}

// ReconnectInterval returns the pause between dial attempts.
func (c *Config) ReconnectInterval() time.Duration {
	if c.CentralSystem.ReconnectInterval <= 0 {
		return 10 * time.Second
	}
	return c.CentralSystem.ReconnectInterval
}
