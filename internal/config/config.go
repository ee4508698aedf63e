package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Peer struct {
	Name    string `yaml:"name" validate:"required"`
	Address string `yaml:"address" validate:"required,url"`
	Host    string `yaml:"host"`
}

type MainConfig struct {
	Port         string `yaml:"port" validate:"required,numeric"`
	WebPath      string `yaml:"web_path" validate:"required,startswith=/"`
	LogPath      string `yaml:"log_path"`
	NodeName     string `yaml:"node_name" validate:"required"`
	GlobalSecret string `yaml:"global_secret" validate:"required,min=16"`
	Peers        []Peer `yaml:"peers" validate:"dive"`

	GossipIntervalMs    int     `yaml:"gossip_interval_ms" validate:"gt=0"`
	Fanout              int     `yaml:"fanout" validate:"gt=0"`
	ValidationTimeoutMs int     `yaml:"validation_timeout_ms" validate:"gt=0"`
	ConsensusThreshold  float64 `yaml:"consensus_threshold" validate:"gt=0,lte=1"`
	HeartbeatIntervalMs int     `yaml:"heartbeat_interval_ms" validate:"gt=0"`
	MaxValidationHistory int    `yaml:"max_validation_history" validate:"gt=0"`

	// Lifecycle capacity knobs, consumed by the check suite.
	MaxAgents           int      `yaml:"max_agents" validate:"gt=0"`
	AvailableMemoryMB   int      `yaml:"available_memory_mb" validate:"gt=0"`
	AvailableCPUCores   int      `yaml:"available_cpu_cores" validate:"gt=0"`
	SupportedAgentTypes []string `yaml:"supported_agent_types" validate:"min=1"`
	MinActivePeers      int      `yaml:"min_active_peers" validate:"gte=0"`
}

func defaultConfig() MainConfig {
	return MainConfig{
		Port:                 "26656",
		WebPath:              "/verimesh",
		LogPath:              "/var/log/verimesh/",
		NodeName:             "verimesh-node",
		GossipIntervalMs:     1000,
		Fanout:               3,
		ValidationTimeoutMs:  15000,
		ConsensusThreshold:   0.66,
		HeartbeatIntervalMs:  5000,
		MaxValidationHistory: 1000,
		MaxAgents:            64,
		AvailableMemoryMB:    8192,
		AvailableCPUCores:    8,
		SupportedAgentTypes:  []string{"worker", "monitor", "coordinator", "validator"},
		MinActivePeers:       1,
	}
}

// LoadMainConfig reads config/verimesh.yml under basePath and fills any
// option the file leaves at zero with its default. A missing file yields
// the defaults (the secret must then come from VERIMESH_SECRET).
func LoadMainConfig(basePath string) (*MainConfig, error) {
	cfg := defaultConfig()

	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "verimesh.yml")

	data, err := os.ReadFile(configPath)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyDefaults(&cfg)

	if cfg.GlobalSecret == "" {
		cfg.GlobalSecret = os.Getenv("VERIMESH_SECRET")
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *MainConfig) {
	def := defaultConfig()
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.WebPath == "" {
		cfg.WebPath = def.WebPath
	}
	if cfg.LogPath == "" {
		cfg.LogPath = def.LogPath
	}
	if cfg.NodeName == "" {
		cfg.NodeName = def.NodeName
	}
	if cfg.GossipIntervalMs == 0 {
		cfg.GossipIntervalMs = def.GossipIntervalMs
	}
	if cfg.Fanout == 0 {
		cfg.Fanout = def.Fanout
	}
	if cfg.ValidationTimeoutMs == 0 {
		cfg.ValidationTimeoutMs = def.ValidationTimeoutMs
	}
	if cfg.ConsensusThreshold == 0 {
		cfg.ConsensusThreshold = def.ConsensusThreshold
	}
	if cfg.HeartbeatIntervalMs == 0 {
		cfg.HeartbeatIntervalMs = def.HeartbeatIntervalMs
	}
	if cfg.MaxValidationHistory == 0 {
		cfg.MaxValidationHistory = def.MaxValidationHistory
	}
	if cfg.MaxAgents == 0 {
		cfg.MaxAgents = def.MaxAgents
	}
	if cfg.AvailableMemoryMB == 0 {
		cfg.AvailableMemoryMB = def.AvailableMemoryMB
	}
	if cfg.AvailableCPUCores == 0 {
		cfg.AvailableCPUCores = def.AvailableCPUCores
	}
	if len(cfg.SupportedAgentTypes) == 0 {
		cfg.SupportedAgentTypes = def.SupportedAgentTypes
	}
	if cfg.MinActivePeers == 0 {
		cfg.MinActivePeers = def.MinActivePeers
	}
}

// Validate rejects a config the mesh cannot safely start with.
// A violation here is fatal at startup; nothing degrades past it.
func Validate(cfg *MainConfig) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (cfg *MainConfig) GossipInterval() time.Duration {
	return time.Duration(cfg.GossipIntervalMs) * time.Millisecond
}

func (cfg *MainConfig) ValidationTimeout() time.Duration {
	return time.Duration(cfg.ValidationTimeoutMs) * time.Millisecond
}

func (cfg *MainConfig) HeartbeatInterval() time.Duration {
	return time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond
}

// EffectiveFanout caps the configured fanout at the number of peers.
func (cfg *MainConfig) EffectiveFanout(peerCount int) int {
	k := cfg.Fanout
	if peerCount < k {
		k = peerCount
	}
	return k
}
