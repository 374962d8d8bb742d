package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

const settingsFileName = "settings.toml"

// LookupViaHub as agent.lookup_url asks the connected hub for the public
// address instead of an external service.
const LookupViaHub = "hub"

// Step modes accepted by AgentSettings.StepMode.
const (
	StepModeFixed  = "fixed"
	StepModeRandom = "random"
)

// Settings holds runtime tuning for the hub and the device agent.
type Settings struct {
	Hub   HubSettings   `toml:"hub"`
	Agent AgentSettings `toml:"agent"`
	Log   LogSettings   `toml:"log"`
}

// HubSettings controls the shared document hub.
type HubSettings struct {
	Listen     string   `toml:"listen"`
	Database   string   `toml:"database"`
	Token      string   `toml:"token"`
	Advertise  bool     `toml:"advertise"`
	PruneAfter Duration `toml:"prune_after"`
	// NetworkAddress is the address /v1/ip reports to LAN devices. Empty
	// picks the host's first private IPv4.
	NetworkAddress string `toml:"network_address"`
}

// AgentSettings controls one device session.
type AgentSettings struct {
	HubURL            string   `toml:"hub_url"`
	HubToken          string   `toml:"hub_token"`
	DiscoverHub       bool     `toml:"discover_hub"`
	Database          string   `toml:"database"`
	LookupURL         string   `toml:"lookup_url"`
	LookupTimeout     Duration `toml:"lookup_timeout"`
	PresenceInterval  Duration `toml:"presence_interval"`
	OfflineTimeout    Duration `toml:"offline_timeout"`
	DirectoryRefresh  Duration `toml:"directory_refresh"`
	StaleAfter        Duration `toml:"stale_after"`
	SimulatorInterval Duration `toml:"simulator_interval"`
	StepMode          string   `toml:"step_mode"`
	Step              int      `toml:"step"`
	RecentLimit       int      `toml:"recent_limit"`
}

// LogSettings controls logger construction.
type LogSettings struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration that reads and writes Go duration strings.
type Duration struct {
	time.Duration
}

// UnmarshalText parses values such as "30s" or "1m30s".
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultSettings returns the settings used when no file exists.
func DefaultSettings(dataDir string) Settings {
	return Settings{
		Hub: HubSettings{
			Listen:     ":8787",
			Database:   filepath.Join(dataDir, "hub.db"),
			Advertise:  true,
			PruneAfter: Duration{24 * time.Hour},
		},
		Agent: AgentSettings{
			Database:          filepath.Join(dataDir, "rapidshare.db"),
			LookupURL:         "https://api.ipify.org?format=json",
			LookupTimeout:     Duration{5 * time.Second},
			PresenceInterval:  Duration{30 * time.Second},
			OfflineTimeout:    Duration{3 * time.Second},
			DirectoryRefresh:  Duration{5 * time.Second},
			StaleAfter:        Duration{90 * time.Second},
			SimulatorInterval: Duration{time.Second},
			StepMode:          StepModeFixed,
			Step:              5,
			RecentLimit:       20,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "console",
		},
	}
}

// SettingsPath returns the settings.toml path for a data directory.
func SettingsPath(dataDir string) string {
	return filepath.Join(dataDir, settingsFileName)
}

// LoadSettings reads settings.toml, falling back to defaults for a missing
// file and for any key the file leaves out.
func LoadSettings(dataDir string) (Settings, error) {
	cfg := DefaultSettings(dataDir)
	path := SettingsPath(dataDir)

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// SaveSettings writes settings.toml.
func SaveSettings(dataDir string, cfg Settings) error {
	if err := EnsureDataDirectory(dataDir); err != nil {
		return err
	}

	f, err := os.OpenFile(SettingsPath(dataDir), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Validate rejects settings the agent cannot run with.
func (s Settings) Validate() error {
	a := s.Agent
	if a.PresenceInterval.Duration <= 0 {
		return errors.New("agent.presence_interval must be > 0")
	}
	if a.SimulatorInterval.Duration <= 0 {
		return errors.New("agent.simulator_interval must be > 0")
	}
	if a.DirectoryRefresh.Duration <= 0 {
		return errors.New("agent.directory_refresh must be > 0")
	}
	if a.StaleAfter.Duration < 0 {
		return errors.New("agent.stale_after must be >= 0")
	}
	switch a.StepMode {
	case StepModeFixed, StepModeRandom:
	default:
		return fmt.Errorf("agent.step_mode %q must be %q or %q", a.StepMode, StepModeFixed, StepModeRandom)
	}
	if a.Step <= 0 || a.Step > 100 {
		return errors.New("agent.step must be within 1..100")
	}
	if a.RecentLimit <= 0 {
		return errors.New("agent.recent_limit must be > 0")
	}
	return nil
}
