package simulator

import (
	"encoding/json"
	"fmt"

	"nexstar/pkg/nexstar"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket    = "nexstar"
	configKey = "simulator_config"
)

// Config describes the simulated hand controller.
type Config struct {
	Model         uint8            `json:"model"`
	Version       nexstar.Version  `json:"version"`
	DeviceVersion nexstar.Version  `json:"device_version"`
	Absent        []uint8          `json:"absent_devices"` // sub devices that do not answer
	Aligned       bool             `json:"aligned"`
	TrackingMode  uint8            `json:"tracking_mode"`
	Location      nexstar.Location `json:"location"`
}

// DefaultConfig is an aligned 6/8 SE without GPS or RTC.
var DefaultConfig = Config{
	Model:         nexstar.Se6_8.ID,
	Version:       nexstar.Version{Major: 4, Minor: 21},
	DeviceVersion: nexstar.Version{Major: 7, Minor: 11},
	Absent:        []uint8{uint8(nexstar.GPSUnit), uint8(nexstar.RTC)},
	Aligned:       true,
	TrackingMode:  uint8(nexstar.TrackingAltAz),
	Location:      nexstar.Location{Latitude: 40.4168, Longitude: -3.7038},
}

func (c Config) hasDevice(d nexstar.Device) bool {
	for _, absent := range c.Absent {
		if nexstar.Device(absent) == d {
			return false
		}
	}
	for _, known := range nexstar.Devices {
		if known == d {
			return true
		}
	}
	return false
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

func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default simulator config")
		return s.SetConfig(DefaultConfig)
	}

	return nil
}

// SetConfig saves the simulator configuration as a json string in the database.
func (s *store) SetConfig(cfg Config) error {
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

// GetConfig retrieves the simulator configuration from the database.
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
