package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap/zapcore"
)

const (
	RELAY_DRIVER_GPIO = "gpio"
	RELAY_DRIVER_NONE = "none"
)

type Config struct {
	LogLevel zapcore.Level
	Serial   SerialConfig  `mapstructure:"serial"`
	Control  ControlConfig `mapstructure:"control"`
	Monitor  MonitorConfig `mapstructure:"monitor"`
	Relay    RelayConfig   `mapstructure:"relay"`
	MQTT     MQTTConfig    `mapstructure:"mqtt"`
	Port     uint          `mapstructure:"port"`
	HttpLog  bool          `mapstructure:"http_log"`
}

type SerialConfig struct {
	Device        string
	BaudRate      int    `mapstructure:"baud_rate"`
	TimeoutMillis uint32 `mapstructure:"timeout_millis"`
}

func (c SerialConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMillis) * time.Millisecond
}

type ControlConfig struct {
	UpperThresholdAmp  float64 `mapstructure:"upper_threshold_amp"`
	LowerThresholdAmp  float64 `mapstructure:"lower_threshold_amp"`
	PollIntervalMillis uint32  `mapstructure:"poll_interval_millis"`
	// 0 disables escalation
	MaxConsecutiveIOErrors uint `mapstructure:"max_consecutive_io_errors"`
}

func (c ControlConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

type MonitorConfig struct {
	// six field cron expression (with seconds). Empty disables the full readout.
	FullReadoutCron string `mapstructure:"full_readout_cron"`
}

type RelayConfig struct {
	Driver   string
	StartPin string `mapstructure:"start_pin"`
	StopPin  string `mapstructure:"stop_pin"`
}

type MQTTConfig struct {
	Enable            bool
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

// Validate checks bounds and normalizes the MQTT topics in place.
func (c *Config) Validate() error {
	if c.Serial.Device == "" {
		return errors.New("config param serial.device is required")
	}
	if c.Serial.BaudRate <= 0 {
		return errors.New("config param serial.baud_rate should be > 0")
	}
	if c.Serial.TimeoutMillis == 0 {
		return errors.New("config param serial.timeout_millis should be > 0")
	}
	if c.Control.UpperThresholdAmp < 0 || c.Control.LowerThresholdAmp < 0 {
		return errors.New("config params control.upper_threshold_amp and control.lower_threshold_amp should be >= 0")
	}
	if c.Control.LowerThresholdAmp > c.Control.UpperThresholdAmp {
		return fmt.Errorf("config param control.lower_threshold_amp (%.2f) must be <= control.upper_threshold_amp (%.2f)",
			c.Control.LowerThresholdAmp, c.Control.UpperThresholdAmp)
	}
	if c.Control.PollIntervalMillis < 100 {
		return errors.New("config param control.poll_interval_millis should be >= 100")
	}
	if c.Monitor.FullReadoutCron != "" {
		if _, err := quartz.NewCronTrigger(c.Monitor.FullReadoutCron); err != nil {
			return fmt.Errorf("config param monitor.full_readout_cron is invalid: %w", err)
		}
	}
	switch c.Relay.Driver {
	case RELAY_DRIVER_NONE:
	case RELAY_DRIVER_GPIO:
		if c.Relay.StartPin == "" || c.Relay.StopPin == "" {
			return errors.New("config params relay.start_pin and relay.stop_pin are required by the gpio driver")
		}
		if c.Relay.StartPin == c.Relay.StopPin {
			return errors.New("config params relay.start_pin and relay.stop_pin must differ")
		}
	default:
		return fmt.Errorf("config param relay.driver: unknown driver %q", c.Relay.Driver)
	}

	if c.MQTT.Enable {
		// check and fix base topic
		baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
		if err != nil {
			return errors.New("invalid base topic. can only contain letters, numbers and underscores")
		}
		c.MQTT.BaseTopic = baseTopic

		// check and fix homeassistant discovery topic
		hadBaseTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
		if err != nil {
			return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
		}
		c.MQTT.HADiscoveryTopic = hadBaseTopic
	}
	return nil
}

var baseTopicRegexp = regexp.MustCompile("^[a-z0-9_]+$")

func CheckMQTTTopic(baseTopic string) (string, error) {
	lowerBaseTopic := strings.ToLower(baseTopic)
	if !baseTopicRegexp.MatchString(lowerBaseTopic) {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
