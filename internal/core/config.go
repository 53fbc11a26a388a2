package core

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config is the daemon's full configuration tree, decoded from a YAML file
// the way the teacher's core.DefaultConfig()/toolutils.ReadYaml does, then
// overlaid with the CCND_* environment variables from spec §6.
type Config struct {
	Core  CoreConfig  `yaml:"core"`
	Faces FacesConfig `yaml:"faces"`
	CS    CSConfig    `yaml:"cs"`
	Mgmt  MgmtConfig  `yaml:"mgmt"`
}

type CoreConfig struct {
	BaseDir      string `yaml:"-"` // derived from the config file's directory, not decoded
	LogLevel     string `yaml:"log_level"`
	CpuProfile   string `yaml:"-"`
	MemProfile   string `yaml:"-"`
	BlockProfile string `yaml:"-"`
}

type FacesConfig struct {
	ListenOn       []string      `yaml:"listen_on"`      // CCND_LISTEN_ON
	LocalSocket    string        `yaml:"local_socket"`   // control socket path
	LocalPort      uint16        `yaml:"local_port"`     // CCN_LOCAL_PORT
	MTU            int           `yaml:"mtu"`             // CCND_MTU, 0 disables stuffing
	DataPause      time.Duration `yaml:"data_pause"`      // CCND_DATA_PAUSE_MICROSEC
	AutoReg        []string      `yaml:"autoreg"`          // CCND_AUTOREG
	InterestLife   time.Duration `yaml:"interest_life"`    // default 4s, spec §4.F
	MaxFaces       int           `yaml:"max_faces"`
}

type CSConfig struct {
	Capacity int `yaml:"capacity"` // CCND_CAP; 0 forces zero-freshness-everywhere mode
}

type MgmtConfig struct {
	KeyPath   string `yaml:"key_path"`
	DigestAlg string `yaml:"digest_alg"` // Signature.DigestAlgorithm for management replies; empty defaults to sha256
}

// DefaultConfig matches the wire-level defaults named throughout spec §6.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{LogLevel: "INFO"},
		Faces: FacesConfig{
			LocalPort:    9695,
			MTU:          0,
			DataPause:    10 * time.Millisecond,
			InterestLife: 4 * time.Second,
			MaxFaces:     1 << defaultSlotBits,
		},
		CS: CSConfig{Capacity: 4000},
	}
}

const defaultSlotBits = 16

// ReadYamlConfig decodes path into cfg in place, the way
// std/utils/toolutils.ReadYaml does for the teacher.
func ReadYamlConfig(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, cfg)
}

// ApplyEnv overlays the spec §6 CCND_* environment variables onto cfg,
// environment taking precedence over the YAML file the way the original
// ccnd.c's getenv() calls always win over compiled-in defaults.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CCND_DEBUG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Core.LogLevel = debugMaskToLevel(n)
		}
	}
	if v := getenv("CCND_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CS.Capacity = n
		}
	}
	if v := getenv("CCND_MTU"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if n > 8800 {
				n = 8800
			}
			c.Faces.MTU = n
		}
	}
	if v := getenv("CCND_DATA_PAUSE_MICROSEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			if n > 1_000_000 {
				n = 1_000_000
			}
			c.Faces.DataPause = time.Duration(n) * time.Microsecond
		}
	}
	if v := getenv("CCND_LISTEN_ON"); v != "" {
		c.Faces.ListenOn = splitAddrList(v)
	}
	if v := getenv("CCND_AUTOREG"); v != "" {
		c.Faces.AutoReg = strings.Split(v, "\x00")
	}
	if v := getenv("CCN_LOCAL_PORT"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			c.Faces.LocalPort = uint16(n)
		}
	}
}

func splitAddrList(v string) []string {
	if v == "" || v == "*" {
		return nil // nil means wildcard: listen on all addresses
	}
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' })
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	return fields
}

// debugMaskToLevel collapses the original bitmask-style CCND_DEBUG into our
// ordered Level scale: zero leaves WARN, a value with bit 0x40 set enables
// TRACE, and any other nonzero value enables DEBUG.
func debugMaskToLevel(mask int) string {
	switch {
	case mask == 0:
		return "WARN"
	case mask&0x40 != 0:
		return "TRACE"
	default:
		return "DEBUG"
	}
}
