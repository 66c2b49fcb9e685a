package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kjk/kvlog/appendlog"
	"gopkg.in/yaml.v2"
)

// S3 describes an s3-compatible bucket for archives
type S3 struct {
	Endpoint string `yaml:"endpoint"`
	Bucket   string `yaml:"bucket"`
	Access   string `yaml:"access"`
	Secret   string `yaml:"secret"`
	// archives are stored under this prefix in the bucket
	Prefix string `yaml:"prefix"`
	// use http instead of https e.g. for a local minio
	Insecure bool `yaml:"insecure"`
}

// SFTP describes a server we upload archives to via ssh
type SFTP struct {
	Addr string `yaml:"addr"` // host or host:port
	User string `yaml:"user"`
	// path of private key file
	Key string `yaml:"key"`
	Dir string `yaml:"dir"`
}

type Archive struct {
	// local directory, empty means don't archive locally
	Dir string `yaml:"dir"`
	// none, gzip, zstd, br, lz4 or snappy
	Codec string `yaml:"codec"`
	S3    *S3   `yaml:"s3"`
	SFTP  *SFTP `yaml:"sftp"`
}

// Enabled returns true if at least one archive target is configured
func (a *Archive) Enabled() bool {
	return a.Dir != "" || a.S3 != nil || a.SFTP != nil
}

type Config struct {
	Addr                string
	DataPath            string
	LogDir              string
	Verbose             bool
	NoSync              bool
	TruncateCorruptTail bool
	SwapMode            appendlog.SwapMode
	ShutdownTimeout     time.Duration
	ExitOnFatal         bool
	Archive             Archive
}

func Default() *Config {
	return &Config{
		Addr:            ":8000",
		DataPath:        "kvlog.db",
		SwapMode:        appendlog.SwapBackup,
		ShutdownTimeout: 5 * time.Second,
		ExitOnFatal:     true,
	}
}

// Parse parses yaml config. Settings missing from d keep their defaults.
func Parse(d []byte) (*Config, error) {
	var aux struct {
		Addr                string  `yaml:"addr"`
		DataPath            string  `yaml:"data_path"`
		LogDir              string  `yaml:"log_dir"`
		Verbose             bool    `yaml:"verbose"`
		NoSync              bool    `yaml:"no_sync"`
		TruncateCorruptTail bool    `yaml:"truncate_corrupt_tail"`
		SwapMode            string  `yaml:"swap_mode"`
		ShutdownTimeout     string  `yaml:"shutdown_timeout"`
		ExitOnFatal         *bool   `yaml:"exit_on_fatal"`
		Archive             Archive `yaml:"archive"`
	}
	if err := yaml.UnmarshalStrict(d, &aux); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := Default()
	if aux.Addr != "" {
		c.Addr = aux.Addr
	}
	if aux.DataPath != "" {
		c.DataPath = aux.DataPath
	}
	c.LogDir = aux.LogDir
	c.Verbose = aux.Verbose
	c.NoSync = aux.NoSync
	c.TruncateCorruptTail = aux.TruncateCorruptTail
	var err error
	if c.SwapMode, err = appendlog.ParseSwapMode(aux.SwapMode); err != nil {
		return nil, err
	}
	if aux.ShutdownTimeout != "" {
		c.ShutdownTimeout, err = time.ParseDuration(aux.ShutdownTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid shutdown_timeout '%s': %w", aux.ShutdownTimeout, err)
		}
		if c.ShutdownTimeout <= 0 {
			return nil, fmt.Errorf("shutdown_timeout must be positive, is '%s'", aux.ShutdownTimeout)
		}
	}
	if aux.ExitOnFatal != nil {
		c.ExitOnFatal = *aux.ExitOnFatal
	}
	c.Archive = aux.Archive
	return c, nil
}

// Load reads config from a yaml file. Empty path returns Default()
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Parse(d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func normalizeNewlines(d []byte) []byte {
	s := strings.ReplaceAll(string(d), "\r\n", "\n")
	return []byte(strings.ReplaceAll(s, "\r", "\n"))
}

// ParseEnv parses .env file format i.e. KEY=value lines.
// Empty lines and lines starting with # are ignored.
func ParseEnv(d []byte) (map[string]string, error) {
	d = normalizeNewlines(d)
	lines := strings.Split(string(d), "\n")
	m := make(map[string]string)
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid line %d '%s' in .env", i+1, line)
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		m[key] = val
	}
	return m, nil
}

// LoadEnvFile is like ParseEnv but reads from a file. Missing file is not
// an error.
func LoadEnvFile(path string) (map[string]string, error) {
	d, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return ParseEnv(d)
}

const (
	EnvAddr     = "KVLOG_ADDR"
	EnvDataPath = "KVLOG_DATA_PATH"
	EnvS3Access = "KVLOG_S3_ACCESS"
	EnvS3Secret = "KVLOG_S3_SECRET"
	EnvSFTPKey  = "KVLOG_SFTP_KEY"
)

// ApplyEnv overrides settings from environment. Process environment wins
// over values from .env file (dotEnv, can be nil).
// Secrets are usually provided this way so that they are not in the config file.
func (c *Config) ApplyEnv(dotEnv map[string]string) {
	get := func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotEnv[key]
	}
	if v := get(EnvAddr); v != "" {
		c.Addr = v
	}
	if v := get(EnvDataPath); v != "" {
		c.DataPath = v
	}
	if s3 := c.Archive.S3; s3 != nil {
		if v := get(EnvS3Access); v != "" {
			s3.Access = v
		}
		if v := get(EnvS3Secret); v != "" {
			s3.Secret = v
		}
	}
	if sftp := c.Archive.SFTP; sftp != nil {
		if v := get(EnvSFTPKey); v != "" {
			sftp.Key = v
		}
	}
}
