package celestron

import (
	"encoding/json"
	"fmt"
	"time"

	"nexstar/pkg/serialport"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket    = "nexstar"
	configKey = "celestron_config"
)

type MQTTConfig struct {
	Host      string `json:"host"` // empty disables telemetry
	Username  string `json:"username"`
	Password  string `json:"password"`
	TopicRoot string `json:"topic_root"`
}

type Config struct {
	Device       string `json:"device"`        // serial device path
	Baud         int    `json:"baud"`          // serial baud rate
	ReadTimeout  int    `json:"read_timeout"`  // milliseconds
	Simulate     bool   `json:"simulate"`      // use the simulated hand controller
	PollInterval int    `json:"poll_interval"` // milliseconds
	MQTTConfig
}

var defaultConfig = Config{
	Device:       "/dev/ttyUSB0",
	Baud:         9600,
	ReadTimeout:  3500,
	PollInterval: 1000,
	MQTTConfig: MQTTConfig{
		TopicRoot: "nexstar",
	},
}

func (c Config) serialConfig() serialport.Config {
	cfg := serialport.DefaultConfig(c.Device)
	if c.Baud > 0 {
		cfg.Baud = c.Baud
	}
	cfg.ReadTimeout = time.Duration(c.ReadTimeout) * time.Millisecond
	return cfg
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return time.Duration(defaultConfig.PollInterval) * time.Millisecond
	}
	return time.Duration(c.PollInterval) * time.Millisecond
}

func (c Config) validate() error {
	if !c.Simulate && c.Device == "" {
		return fmt.Errorf("serial device cannot be empty")
	}
	if c.Baud < 0 {
		return fmt.Errorf("invalid baud rate: %d", c.Baud)
	}
	if c.ReadTimeout < 0 {
		return fmt.Errorf("invalid read timeout: %d", c.ReadTimeout)
	}
	return nil
}

type store struct {
	db *bolt.DB
}

// NewStore creates a new store instance and sets default values if they are not already set.
func NewStore(db *bolt.DB) (*store, error) {
	st := store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

// setDefaults sets the default configuration values if they are not already set in the database.
func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default telescope config")
		return s.SetConfig(defaultConfig)
	}

	return nil
}

// SetConfig saves the telescope configuration as a json string in the database.
func (s *store) SetConfig(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the telescope configuration from the database.
func (s *store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return fmt.Errorf("key %s not found", configKey)
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
