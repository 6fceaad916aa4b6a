// Package config implements the node's configuration loading (§6 "a
// TOML-like file; environment variables for overrides (data dir, log
// level)"): a flat struct validated by hand the way the teacher's
// node/config.go does, backed by a real TOML parser instead of a
// hand-rolled reader.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the node's effective configuration after file load and
// environment override, mirroring the teacher's node.Config shape.
type Config struct {
	Network  string   `toml:"network"`
	DataDir  string   `toml:"data_dir"`
	BindAddr string   `toml:"bind_addr"`
	LogLevel string   `toml:"log_level"`
	Peers    []string `toml:"peers"`
	MaxPeers int      `toml:"max_peers"`

	RPCAddr string `toml:"rpc_addr"`
}

var allowedLogLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".wimble"
	}
	return filepath.Join(home, ".wimble")
}

func Default() Config {
	return Config{
		Network:  "devnet",
		DataDir:  DefaultDataDir(),
		BindAddr: "0.0.0.0:19111",
		Peers:    nil,
		LogLevel: "info",
		MaxPeers: 64,
		RPCAddr:  "127.0.0.1:19112",
	}
}

// Load reads a TOML config file at path (if it exists — a missing file
// is not an error, the caller gets Default()'s values), then applies
// environment overrides, then validates. The env overrides are
// WIMBLE_DATA_DIR, WIMBLE_LOG_LEVEL, WIMBLE_NETWORK, WIMBLE_BIND_ADDR, and
// WIMBLE_MAX_PEERS; the rest of the struct is file-only.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(raw, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// no file on disk yet; Default() values stand.
		default:
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WIMBLE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("WIMBLE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("WIMBLE_NETWORK"); v != "" {
		cfg.Network = v
	}
	if v := os.Getenv("WIMBLE_BIND_ADDR"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("WIMBLE_MAX_PEERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxPeers = n
		}
	}
}

// NormalizePeers flattens comma-separated and repeated peer tokens into
// a deduplicated ordered slice, the same shape the teacher's CLI needs
// for its "-peers csv" plus repeatable "-peer" flags.
func NormalizePeers(raw ...string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, token := range raw {
		for _, p := range strings.Split(token, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}

// Validate checks a Config is internally consistent. A failure here is
// §6's exit code 1 ("configuration error").
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Network) == "" {
		return errors.New("network is required")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	if err := validateAddr(cfg.BindAddr); err != nil {
		return fmt.Errorf("invalid bind_addr: %w", err)
	}
	if err := validateAddr(cfg.RPCAddr); err != nil {
		return fmt.Errorf("invalid rpc_addr: %w", err)
	}
	for _, peer := range cfg.Peers {
		if err := validatePeerAddr(peer); err != nil {
			return fmt.Errorf("invalid peer %q: %w", peer, err)
		}
	}
	logLevel := strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if _, ok := allowedLogLevels[logLevel]; !ok {
		return fmt.Errorf("invalid log_level %q", cfg.LogLevel)
	}
	if cfg.MaxPeers <= 0 {
		return errors.New("max_peers must be > 0")
	}
	if cfg.MaxPeers > 4096 {
		return errors.New("max_peers must be <= 4096")
	}
	return nil
}

func validateAddr(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("empty address")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("missing port")
	}
	if strings.Contains(host, " ") {
		return errors.New("invalid host")
	}
	return nil
}

func validatePeerAddr(addr string) error {
	if err := validateAddr(addr); err != nil {
		return err
	}
	host, _, _ := net.SplitHostPort(addr)
	if strings.TrimSpace(host) == "" {
		return errors.New("missing host")
	}
	return nil
}

// DataSubdir joins cfg's data directory with a named subdirectory,
// creating it (and any missing parents) if needed — used by cmd/bw-node
// to place the blockdb file under data_dir.
func DataSubdir(cfg Config, name string) (string, error) {
	dir := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}
