package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/zxhio/telemetry-int/internal/flowbuilder"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListen         = ":9931"
	DefaultLogFile        = "/var/log/telemetry-int/telemetryd.log"
	DefaultMEFElineURL    = "http://127.0.0.1:8181/api/kytos/mef_eline/v2"
	DefaultFlowManagerURL = "http://127.0.0.1:8181/api/kytos/flow_manager/v2"
	DefaultBatchSize      = 200
	DefaultBatchInterval  = 500 * time.Millisecond
	DefaultINTPrefix      = 0xA8
	DefaultMEFPrefix      = 0xAA
	DefaultRetryAttempts  = 5
	DefaultRetryInterval  = 3 * time.Second
)

type Retry struct {
	Attempts uint64        `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

type Netlink struct {
	Enabled  bool   `yaml:"enabled"`
	SwitchID string `yaml:"switch_id"`
}

type Config struct {
	Listen         string `yaml:"listen"`
	LogFile        string `yaml:"log_file"`
	MEFElineURL    string `yaml:"mef_eline_url"`
	FlowManagerURL string `yaml:"flow_manager_url"`

	BatchSize     int           `yaml:"batch_size"`
	BatchInterval time.Duration `yaml:"batch_interval"`
	DispatchRate  float64       `yaml:"dispatch_rate"`

	INTCookiePrefix uint8 `yaml:"int_cookie_prefix"`
	MEFCookiePrefix uint8 `yaml:"mef_cookie_prefix"`

	// Pointer so an explicit false survives defaulting.
	FallbackToMEFLoopDown *bool    `yaml:"fallback_to_mef_loop_down"`
	TableGroupAllowed     []string `yaml:"table_group_allowed"`

	Retry   Retry   `yaml:"retry"`
	Netlink Netlink `yaml:"netlink"`

	// Pprof serves the runtime profiles on the API listener.
	Pprof bool `yaml:"pprof"`
}

func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads the YAML file at path. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	c := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "os.ReadFile")
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	c.setDefaults()
	return c, c.Validate()
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if c.MEFElineURL == "" {
		c.MEFElineURL = DefaultMEFElineURL
	}
	if c.FlowManagerURL == "" {
		c.FlowManagerURL = DefaultFlowManagerURL
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchInterval == 0 {
		c.BatchInterval = DefaultBatchInterval
	}
	if c.INTCookiePrefix == 0 {
		c.INTCookiePrefix = DefaultINTPrefix
	}
	if c.MEFCookiePrefix == 0 {
		c.MEFCookiePrefix = DefaultMEFPrefix
	}
	if c.FallbackToMEFLoopDown == nil {
		v := true
		c.FallbackToMEFLoopDown = &v
	}
	if len(c.TableGroupAllowed) == 0 {
		c.TableGroupAllowed = []string{flowbuilder.TableGroupEVPL, flowbuilder.TableGroupEPL}
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = DefaultRetryAttempts
	}
	if c.Retry.Interval == 0 {
		c.Retry.Interval = DefaultRetryInterval
	}
}

func (c *Config) Validate() error {
	if c.INTCookiePrefix == c.MEFCookiePrefix {
		return errors.Errorf("int_cookie_prefix and mef_cookie_prefix must differ, both are %#x", c.INTCookiePrefix)
	}
	if c.DispatchRate < 0 {
		return errors.Errorf("invalid dispatch_rate %v", c.DispatchRate)
	}
	if c.BatchInterval < 0 {
		return errors.Errorf("invalid batch_interval %v", c.BatchInterval)
	}
	if c.Netlink.Enabled && c.Netlink.SwitchID == "" {
		return errors.New("netlink.switch_id is required when netlink is enabled")
	}
	return nil
}
