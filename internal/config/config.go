package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/shmproxy/internal/shm"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// EnvFile names the environment variable that points at a YAML file.
const EnvFile = "SHMPROXY_CONFIG"

// Config holds the settings of every binary. Each binary reads the sections
// it needs.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Shm      ShmConfig      `yaml:"shm"`
	Compress CompressConfig `yaml:"compress"`
	Client   ClientConfig   `yaml:"client"`
}

// ServerConfig configures the origin.
type ServerConfig struct {
	Listen  string `yaml:"listen"`
	Root    string `yaml:"root"`
	Workers int    `yaml:"workers"`
}

// ProxyConfig configures the proxy.
type ProxyConfig struct {
	Listen string `yaml:"listen"`
	// OriginPort is the port of the colocated origin; requests for a local
	// address on this port may use the shared channel.
	OriginPort int `yaml:"origin_port"`
	Workers    int `yaml:"workers"`
}

// ShmConfig configures the shared channel. Both processes must agree on Dir
// and Name; Nodes and Capacity are taken from whichever starts first.
type ShmConfig struct {
	Dir       string `yaml:"dir"`
	Name      string `yaml:"name"`
	Nodes     int    `yaml:"nodes"`
	Capacity  int    `yaml:"capacity"`
	Optimized bool   `yaml:"optimized"`
}

// Options converts the section into channel options.
func (c ShmConfig) Options() shm.Options {
	return shm.Options{Dir: c.Dir, Name: c.Name, Nodes: c.Nodes, Capacity: c.Capacity}
}

// CompressConfig configures the image compression helper. An empty Addr
// disables compression in the proxy.
type CompressConfig struct {
	Addr    string `yaml:"addr"`
	Listen  string `yaml:"listen"`
	Quality int    `yaml:"quality"`
}

// ClientConfig configures the load client.
type ClientConfig struct {
	// Mode is "proxy" to send absolute-form requests through Proxy, or
	// "direct" to connect to Target.
	Mode     string   `yaml:"mode"`
	Proxy    string   `yaml:"proxy"`
	Target   string   `yaml:"target"`
	FileList string   `yaml:"file_list"`
	Files    []string `yaml:"files"`
	Workers  int      `yaml:"workers"`
	Accesses int      `yaml:"accesses"`
}

var clientModes = []string{"proxy", "direct"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8080", Root: ".", Workers: 10},
		Proxy:  ProxyConfig{Listen: ":8081", OriginPort: 8080, Workers: 10},
		Shm: ShmConfig{
			Name:     shm.DefaultName,
			Nodes:    shm.DefaultNodes,
			Capacity: shm.DefaultCapacity,
		},
		Compress: CompressConfig{Listen: ":9090", Quality: 10},
		Client: ClientConfig{
			Mode:     "proxy",
			Proxy:    "127.0.0.1:8081",
			Target:   "127.0.0.1:8080",
			Workers:  1,
			Accesses: 10,
		},
	}
}

// Load builds the configuration from the defaults, then the YAML file at
// path (or named by SHMPROXY_CONFIG when path is empty), then environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are rejected.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Listen = getenv("SERVER_LISTEN", c.Server.Listen)
	c.Server.Root = getenv("SERVER_ROOT", c.Server.Root)
	c.Proxy.Listen = getenv("PROXY_LISTEN", c.Proxy.Listen)
	c.Shm.Dir = getenv("SHM_DIR", c.Shm.Dir)
	c.Shm.Name = getenv("SHM_NAME", c.Shm.Name)
	c.Compress.Addr = getenv("COMPRESS_ADDR", c.Compress.Addr)
	c.Compress.Listen = getenv("COMPRESS_LISTEN", c.Compress.Listen)
	c.Client.Mode = getenv("CLIENT_MODE", c.Client.Mode)
	c.Client.Proxy = getenv("CLIENT_PROXY", c.Client.Proxy)
	c.Client.Target = getenv("CLIENT_TARGET", c.Client.Target)
	c.Client.FileList = getenv("CLIENT_FILE_LIST", c.Client.FileList)
	if v := os.Getenv("CLIENT_FILES"); v != "" {
		c.Client.Files = strings.Split(v, ",")
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SERVER_WORKERS", &c.Server.Workers},
		{"PROXY_WORKERS", &c.Proxy.Workers},
		{"ORIGIN_PORT", &c.Proxy.OriginPort},
		{"SHM_NODES", &c.Shm.Nodes},
		{"SHM_CAPACITY", &c.Shm.Capacity},
		{"COMPRESS_QUALITY", &c.Compress.Quality},
		{"CLIENT_WORKERS", &c.Client.Workers},
		{"CLIENT_ACCESSES", &c.Client.Accesses},
	}
	for _, e := range ints {
		v, err := envInt(e.key, *e.dst)
		if err != nil {
			return err
		}
		*e.dst = v
	}

	optimized, err := envBool("SHM_OPTIMIZED", c.Shm.Optimized)
	if err != nil {
		return err
	}
	c.Shm.Optimized = optimized
	return nil
}

// Validate checks ranges and required values.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, name, v))
		}
	}
	positive("server.workers", c.Server.Workers)
	positive("proxy.workers", c.Proxy.Workers)
	positive("shm.capacity", c.Shm.Capacity)
	positive("client.workers", c.Client.Workers)
	positive("client.accesses", c.Client.Accesses)

	if c.Shm.Nodes < 1 || c.Shm.Nodes > shm.MaxNodes {
		errs = append(errs, fmt.Errorf("%w: shm.nodes must be between 1 and %d, got %d", ErrInvalid, shm.MaxNodes, c.Shm.Nodes))
	}
	if c.Proxy.OriginPort < 1 || c.Proxy.OriginPort > 65535 {
		errs = append(errs, fmt.Errorf("%w: proxy.origin_port out of range: %d", ErrInvalid, c.Proxy.OriginPort))
	}
	if c.Compress.Quality < 1 || c.Compress.Quality > 100 {
		errs = append(errs, fmt.Errorf("%w: compress.quality must be between 1 and 100, got %d", ErrInvalid, c.Compress.Quality))
	}
	if !slices.Contains(clientModes, c.Client.Mode) {
		errs = append(errs, fmt.Errorf("%w: client.mode must be one of %v, got %q", ErrInvalid, clientModes, c.Client.Mode))
	}
	if strings.ContainsRune(c.Shm.Name, '/') {
		errs = append(errs, fmt.Errorf("%w: shm.name must not contain '/': %q", ErrInvalid, c.Shm.Name))
	}
	return errors.Join(errs...)
}

// getenv returns the environment variable k, or def when it is unset or
// empty.
func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) (int, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, k, v)
	}
	return n, nil
}

func envBool(k string, def bool) (bool, error) {
	v := getenv(k, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s=%q is not a boolean", ErrInvalid, k, v)
	}
	return b, nil
}
