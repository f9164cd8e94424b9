// Package env provides the configuration shared by the binaries.
package env

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"

	"github.com/robotalks/uartrpc/pkg/phys"
	"github.com/robotalks/uartrpc/pkg/transport"
)

// Config provides common options to open a link and run a transport.
type Config struct {
	// Endpoint is the URL of the byte stream, see package phys.
	Endpoint string `toml:"endpoint"`
	// Baud applies to serial endpoints without a baud parameter.
	Baud int `toml:"baud"`
	// DeviceID identifies this device, defaults to the machine ID.
	DeviceID string `toml:"device_id"`

	BufferSize       int      `toml:"buffer_size"`
	RegistryCapacity int      `toml:"registry_capacity"`
	CallTimeout      Duration `toml:"call_timeout"`

	// RateLimit limits dispatched requests per second, 0 disables.
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`

	// WSListen is the address rpcd accepts websocket peers on.
	WSListen string `toml:"ws_listen"`
}

// Duration is a time.Duration read from a TOML string like "5s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

var (
	defaultConfig = Config{
		Endpoint:         "serial:///dev/ttyUSB0",
		Baud:             phys.DefaultBaud,
		BufferSize:       transport.DefaultBufferSize,
		RegistryCapacity: transport.DefaultRegistryCapacity,
		CallTimeout:      Duration{transport.DefaultCallTimeout},
	}

	configFile string
)

func init() {
	if val := os.Getenv("UARTRPC_ENDPOINT"); val != "" {
		defaultConfig.Endpoint = val
	}
	if val := os.Getenv("UARTRPC_DEVICE_ID"); val != "" {
		defaultConfig.DeviceID = val
	}
	if val := os.Getenv("UARTRPC_CONFIG"); val != "" {
		configFile = val
	}
}

// SetupFlags sets up command line flags.
func SetupFlags() {
	flag.StringVar(&configFile, "config", configFile, "TOML config file, flags override its values.")
	flag.StringVar(&defaultConfig.Endpoint, "endpoint", defaultConfig.Endpoint, "Link endpoint URL.")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Serial baud rate.")
	flag.StringVar(&defaultConfig.DeviceID, "device-id", defaultConfig.DeviceID, "Device ID, default is the machine ID.")
	flag.DurationVar(&defaultConfig.CallTimeout.Duration, "timeout", defaultConfig.CallTimeout.Duration, "Call timeout.")
}

// Default gets the default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
// When a config file is specified, values it defines are applied unless
// overridden by a flag set on the command line.
func NewConfig() (*Config, error) {
	conf := defaultConfig
	if configFile != "" {
		file := defaultConfig
		md, err := toml.DecodeFile(configFile, &file)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configFile, err)
		}
		conf.merge(&file, md, setFlags())
	}
	if conf.DeviceID == "" {
		conf.DeviceID = MachineID()
	}
	return &conf, conf.Validate()
}

// LoadFile loads a TOML config file over the defaults.
func LoadFile(fn string) (*Config, error) {
	conf := defaultConfig
	if _, err := toml.DecodeFile(fn, &conf); err != nil {
		return nil, fmt.Errorf("load config %s: %w", fn, err)
	}
	return &conf, conf.Validate()
}

// Validate checks the values are usable.
func (c *Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return fmt.Errorf("endpoint is required")
	case c.BufferSize < 0:
		return fmt.Errorf("invalid buffer_size %d", c.BufferSize)
	case c.RegistryCapacity < 0:
		return fmt.Errorf("invalid registry_capacity %d", c.RegistryCapacity)
	case c.CallTimeout.Duration < 0:
		return fmt.Errorf("invalid call_timeout %s", c.CallTimeout)
	case c.RateLimit < 0 || c.RateBurst < 0:
		return fmt.Errorf("invalid rate limit %v/%d", c.RateLimit, c.RateBurst)
	}
	return nil
}

// PhysOptions returns the options to open Endpoint.
func (c *Config) PhysOptions(device bool) phys.Options {
	return phys.Options{Baud: c.Baud, DeviceID: c.DeviceID, Device: device}
}

// Middlewares returns the handler middlewares configured.
func (c *Config) Middlewares() []transport.Middleware {
	mws := []transport.Middleware{transport.Logging()}
	if c.RateLimit > 0 {
		burst := c.RateBurst
		if burst <= 0 {
			burst = 1
		}
		mws = append(mws, transport.RateLimit(c.RateLimit, burst))
	}
	return mws
}

var flagKeys = map[string]string{
	"endpoint":  "endpoint",
	"baud":      "baud",
	"device-id": "device_id",
	"timeout":   "call_timeout",
}

func setFlags() map[string]bool {
	keys := make(map[string]bool)
	if flag.Parsed() {
		flag.Visit(func(f *flag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				keys[key] = true
			}
		})
	}
	return keys
}

func (c *Config) merge(file *Config, md toml.MetaData, overridden map[string]bool) {
	use := func(key string) bool {
		return md.IsDefined(key) && !overridden[key]
	}
	if use("endpoint") {
		c.Endpoint = file.Endpoint
	}
	if use("baud") {
		c.Baud = file.Baud
	}
	if use("device_id") {
		c.DeviceID = file.DeviceID
	}
	if use("call_timeout") {
		c.CallTimeout = file.CallTimeout
	}
	if use("buffer_size") {
		c.BufferSize = file.BufferSize
	}
	if use("registry_capacity") {
		c.RegistryCapacity = file.RegistryCapacity
	}
	if use("rate_limit") {
		c.RateLimit = file.RateLimit
	}
	if use("rate_burst") {
		c.RateBurst = file.RateBurst
	}
	if use("ws_listen") {
		c.WSListen = file.WSListen
	}
}

// MachineID retrieves the unique ID identifying the machine.
func MachineID() string {
	id, err := machineid.ProtectedID("uartrpc")
	if err != nil {
		return "unknown"
	}
	return id[:16]
}
