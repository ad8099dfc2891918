package throw

import (
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the file representation of an endpoint's settings.
type Config struct {
	Address        string        `yaml:"address"`
	Port           int           `yaml:"port"`
	ReceiveTimeout time.Duration `yaml:"receive_timeout"`
	SendTimeout    time.Duration `yaml:"send_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	MaxPayloadSize int           `yaml:"max_payload_size"`
	VerifyChecksum bool          `yaml:"verify_checksum"`
	LogLevel       string        `yaml:"log_level"`
}

// DefaultConfig returns the settings used when no file is given.
func DefaultConfig() Config {
	return Config{
		Address:        "0.0.0.0",
		Port:           8000,
		ReceiveTimeout: DefaultReceiveTimeout,
		SendTimeout:    DefaultSendTimeout,
		PollInterval:   DefaultPollInterval,
		MaxPayloadSize: DefaultMaxPayloadSize,
		LogLevel:       "info",
	}
}

// LoadConfig reads a YAML file over the defaults. A missing file yields the
// defaults with no error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, errors.WithMessagef(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.WithMessagef(err, "parse config %s", path)
	}
	return cfg, nil
}

// HostPort returns the address in host:port form.
func (c Config) HostPort() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(c.Port))
}

// TCPAddr resolves the listening address.
func (c Config) TCPAddr() (*net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", c.HostPort())
	if err != nil {
		return nil, errors.WithMessagef(err, "resolve %s", c.HostPort())
	}
	return addr, nil
}

// Level parses LogLevel, falling back to info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// NodeOptions returns the node options described by the config.
func (c Config) NodeOptions(logger Logger) []Option {
	return []Option{
		LoggerOption(logger),
		ReceiveTimeoutOption(c.ReceiveTimeout),
		SendTimeoutOption(c.SendTimeout),
		MaxPayloadSizeOption(c.MaxPayloadSize),
		VerifyChecksumOption(c.VerifyChecksum),
	}
}

// ManagerOptions returns the manager options described by the config.
func (c Config) ManagerOptions(logger Logger) []ManagerOption {
	return []ManagerOption{
		ManagerLoggerOption(logger),
		PollIntervalOption(c.PollInterval),
		NodeOptions(c.NodeOptions(logger)...),
	}
}
