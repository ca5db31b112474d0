package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Source selects where NMEA bytes come from: "serial", "gpsd" or
	// "replay".
	Source string `yaml:"source"`

	Serial    SerialConfig    `yaml:"serial"`
	GPSD      GPSDConfig      `yaml:"gpsd"`
	Replay    ReplayConfig    `yaml:"replay"`
	Record    RecordConfig    `yaml:"record"`
	Store     StoreConfig     `yaml:"store"`
	Survey    SurveyConfig    `yaml:"survey"`
	Web       WebConfig       `yaml:"web"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	UDP       UDPConfig       `yaml:"udp"`
	Indicator IndicatorConfig `yaml:"indicator"`
}

type SerialConfig struct {
	VendorID          uint16        `yaml:"vendor_id"`
	ProductID         uint16        `yaml:"product_id"`
	Baud              int           `yaml:"baud"`
	PermissionTimeout time.Duration `yaml:"permission_timeout"`
	PermissionPoll    time.Duration `yaml:"permission_poll"`
	ReadBuffer        int           `yaml:"read_buffer"`
}

type GPSDConfig struct {
	Addr string `yaml:"addr"`
}

type ReplayConfig struct {
	Path  string  `yaml:"path"`
	Speed float64 `yaml:"speed"`
	Loop  bool    `yaml:"loop"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type StoreConfig struct {
	Dir    string `yaml:"dir"`
	File   string `yaml:"file"`
	Images string `yaml:"images"`
}

// DataPath is the record file location.
func (s StoreConfig) DataPath() string { return filepath.Join(s.Dir, s.File) }

// ImageDir is where feature photos are written.
func (s StoreConfig) ImageDir() string { return filepath.Join(s.Dir, s.Images) }

type SurveyConfig struct {
	RequiredQuality string `yaml:"required_quality"`
	RateWindow      int    `yaml:"rate_window"`
	Multi           bool   `yaml:"multi"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type MQTTConfig struct {
	Enable      bool   `yaml:"enable"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
}

type IndicatorConfig struct {
	Enable bool `yaml:"enable"`
	Pin    int  `yaml:"pin"`
}

// Default is the configuration used when no file is given. It matches the
// FTDI-bridged receiver the survey kit ships with.
func Default() Config {
	return Config{
		Source: "serial",
		Serial: SerialConfig{
			VendorID:          0x0403,
			ProductID:         0x6001,
			Baud:              115200,
			PermissionTimeout: 10 * time.Second,
			PermissionPoll:    10 * time.Millisecond,
			ReadBuffer:        1024,
		},
		GPSD:      GPSDConfig{Addr: "127.0.0.1:2947"},
		Replay:    ReplayConfig{Speed: 1},
		Store:     StoreConfig{Dir: "./GNSSData", File: "data.csv", Images: "Images"},
		Survey:    SurveyConfig{RequiredQuality: "4", RateWindow: 20},
		Web:       WebConfig{Enable: true, Listen: ":8080"},
		MQTT:      MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "gnss-survey", TopicPrefix: "gnss"},
		UDP:       UDPConfig{Dest: "127.0.0.1:10110"},
		Indicator: IndicatorConfig{Pin: 17},
	}
}

// Load reads path on top of Default and validates the result.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects inconsistent
// settings.
func (cfg *Config) Validate() error {
	def := Default()

	cfg.Source = strings.ToLower(strings.TrimSpace(cfg.Source))
	if cfg.Source == "" {
		cfg.Source = def.Source
	}
	switch cfg.Source {
	case "serial", "gpsd", "replay":
	default:
		return fmt.Errorf("source must be serial, gpsd or replay")
	}

	if cfg.Serial.Baud <= 0 {
		cfg.Serial.Baud = def.Serial.Baud
	}
	if cfg.Serial.PermissionTimeout <= 0 {
		cfg.Serial.PermissionTimeout = def.Serial.PermissionTimeout
	}
	if cfg.Serial.PermissionPoll <= 0 {
		cfg.Serial.PermissionPoll = def.Serial.PermissionPoll
	}
	if cfg.Serial.PermissionPoll > cfg.Serial.PermissionTimeout {
		return fmt.Errorf("serial.permission_poll must not exceed serial.permission_timeout")
	}
	if cfg.Serial.ReadBuffer <= 0 {
		cfg.Serial.ReadBuffer = def.Serial.ReadBuffer
	}

	if cfg.Source == "gpsd" && strings.TrimSpace(cfg.GPSD.Addr) == "" {
		return fmt.Errorf("gpsd.addr is required when source is gpsd")
	}

	if cfg.Source == "replay" {
		if cfg.Replay.Path == "" {
			return fmt.Errorf("replay.path is required when source is replay")
		}
		if cfg.Replay.Speed == 0 {
			cfg.Replay.Speed = 1
		}
		if cfg.Replay.Speed < 0 {
			return fmt.Errorf("replay.speed must be > 0")
		}
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if cfg.Source == "replay" {
			return fmt.Errorf("record cannot be used with source=replay")
		}
	}

	if strings.TrimSpace(cfg.Store.Dir) == "" {
		return fmt.Errorf("store.dir is required")
	}
	if cfg.Store.File == "" {
		cfg.Store.File = def.Store.File
	}
	if cfg.Store.Images == "" {
		cfg.Store.Images = def.Store.Images
	}

	if cfg.Survey.RequiredQuality == "" {
		cfg.Survey.RequiredQuality = def.Survey.RequiredQuality
	}
	if cfg.Survey.RateWindow <= 0 {
		cfg.Survey.RateWindow = def.Survey.RateWindow
	}

	if cfg.Web.Enable && strings.TrimSpace(cfg.Web.Listen) == "" {
		return fmt.Errorf("web.listen is required when web.enable is true")
	}

	if cfg.MQTT.Enable {
		if strings.TrimSpace(cfg.MQTT.Broker) == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt.enable is true")
		}
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = def.MQTT.ClientID
		}
		cfg.MQTT.TopicPrefix = strings.Trim(cfg.MQTT.TopicPrefix, "/")
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = def.MQTT.TopicPrefix
		}
	}

	if cfg.UDP.Enable {
		if _, _, err := net.SplitHostPort(cfg.UDP.Dest); err != nil {
			return fmt.Errorf("udp.dest must be host:port: %v", err)
		}
	}

	if cfg.Indicator.Enable && cfg.Indicator.Pin < 0 {
		return fmt.Errorf("indicator.pin must be >= 0")
	}
	return nil
}
