package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpt/framebridge/internal/bridge"
	"github.com/fpt/framebridge/internal/detector"
	"github.com/fpt/framebridge/internal/infra"
	"github.com/fpt/framebridge/internal/repository"
	pkgLogger "github.com/fpt/framebridge/pkg/logger"
)

// Settings represents the main application settings
type Settings struct {
	Page     PageSettings     `json:"page"`
	Detector DetectorSettings `json:"detector"`
	Bridge   BridgeSettings   `json:"bridge"`
	Channel  ChannelSettings  `json:"channel"`
	Control  ControlSettings  `json:"control"`
	LogLevel string           `json:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`

	// Repository for persistence (nil for in-memory only)
	settingsRepository repository.SettingsRepository `json:"-"`
}

// PageSettings describes where the host page comes from
type PageSettings struct {
	URL          string `json:"url" jsonschema:"description=Host page address (http or https)"`
	PollInterval string `json:"poll_interval" jsonschema:"description=Go duration between page refreshes"`
	Timeout      string `json:"timeout,omitempty"`
	FetchFrames  bool   `json:"fetch_frames" jsonschema:"description=Also fetch same-origin frame documents"`
	UserAgent    string `json:"user_agent,omitempty"`
}

// PolicySettings is a retry policy in milliseconds
type PolicySettings struct {
	MaxAttempts int   `json:"max_attempts" jsonschema:"minimum=1"`
	DelaysMs    []int `json:"delays_ms"`
}

// DetectorSettings identifies the target frame
type DetectorSettings struct {
	ContainerSelector string         `json:"container_selector"`
	TargetSelectors   []string       `json:"target_selectors"`
	QuickSelector     string         `json:"quick_selector"`
	RequiredPath      string         `json:"required_path"`
	RequiredQuery     string         `json:"required_query"`
	Container         PolicySettings `json:"container"`
	Target            PolicySettings `json:"target"`
	Load              PolicySettings `json:"load"`
}

// BridgeSettings controls payload delivery and request correlation
type BridgeSettings struct {
	WorkerScriptURL   string `json:"worker_script_url"`
	ReplyTimeoutMs    int    `json:"reply_timeout_ms"`
	RecheckIntervalMs int    `json:"recheck_interval_ms"`
}

// ChannelSettings sizes the worker channel
type ChannelSettings struct {
	BufferSize int `json:"buffer_size"`
}

// ControlSettings configures the HTTP control server
type ControlSettings struct {
	Addr string `json:"addr"`
}

// NewSettings creates new settings with in-memory repository
func NewSettings() *Settings {
	return NewSettingsWithRepository(infra.NewInMemorySettingsRepository())
}

// NewSettingsWithRepository creates new settings with injected repository
func NewSettingsWithRepository(settingsRepository repository.SettingsRepository) *Settings {
	settings := GetDefaultSettings()
	settings.settingsRepository = settingsRepository
	return settings
}

// NewSettingsWithPath creates new settings with file-based repository
func NewSettingsWithPath(configPath string) *Settings {
	repo := infra.NewFileSettingsRepository(configPath)
	return NewSettingsWithRepository(repo)
}

// Load loads settings from the repository
func (s *Settings) Load() error {
	if s.settingsRepository == nil {
		return fmt.Errorf("no settings repository configured")
	}

	data, err := s.settingsRepository.Load()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("failed to parse settings: %w", err)
	}

	applyDefaults(s)
	return nil
}

// Save saves settings to the repository
func (s *Settings) Save() error {
	if s.settingsRepository == nil {
		return fmt.Errorf("no settings repository configured")
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	return s.settingsRepository.Save(data)
}

// LoadSettings loads application settings from a JSON or YAML file
func LoadSettings(configPath string) (*Settings, error) {
	settings := NewSettingsWithPath(configPath)

	// If config path is empty, search for existing settings file
	if configPath == "" {
		foundPath, _ := settings.settingsRepository.FindSettingsFile()
		if foundPath == "" {
			return createDefaultSettingsFile()
		}
	}

	err := settings.Load()
	if err != nil {
		if configPath != "" {
			if _, statErr := os.Stat(configPath); statErr == nil {
				// The file exists but does not parse; do not overwrite it.
				return nil, err
			}
			createdSettings, _ := createSettingsFileAtPath(configPath)
			return createdSettings, nil
		}
		return GetDefaultSettings(), nil
	}

	return settings, nil
}

// GetDefaultSettings returns default application settings
func GetDefaultSettings() *Settings {
	dcfg := detector.DefaultConfig()
	bcfg := bridge.DefaultConfig()
	return &Settings{
		Page: PageSettings{
			URL:          "http://127.0.0.1:8080/crm/deal/",
			PollInterval: "2s",
			Timeout:      "10s",
			FetchFrames:  true,
		},
		Detector: DetectorSettings{
			ContainerSelector: dcfg.ContainerSelector,
			TargetSelectors:   dcfg.TargetSelectors,
			QuickSelector:     bcfg.QuickSelector,
			RequiredPath:      dcfg.RequiredPath,
			RequiredQuery:     dcfg.RequiredQuery,
			Container:         policySettings(dcfg.ContainerPolicy),
			Target:            policySettings(dcfg.TargetPolicy),
			Load:              policySettings(dcfg.LoadPolicy),
		},
		Bridge: BridgeSettings{
			WorkerScriptURL:   bcfg.WorkerScriptURL,
			ReplyTimeoutMs:    int(bcfg.ReplyTimeout / time.Millisecond),
			RecheckIntervalMs: int(bcfg.RecheckInterval / time.Millisecond),
		},
		Channel: ChannelSettings{
			BufferSize: 64,
		},
		Control: ControlSettings{
			Addr: "127.0.0.1:8765",
		},
		LogLevel: "info",
	}
}

func policySettings(p detector.RetryPolicy) PolicySettings {
	ms := make([]int, len(p.Delays))
	for i, d := range p.Delays {
		ms[i] = int(d / time.Millisecond)
	}
	return PolicySettings{MaxAttempts: p.MaxAttempts, DelaysMs: ms}
}

// Policy converts the settings to a RetryPolicy.
func (p PolicySettings) Policy() detector.RetryPolicy {
	return detector.MillisPolicy(p.MaxAttempts, p.DelaysMs...)
}

// DetectorConfig builds the detector configuration.
func (s *Settings) DetectorConfig() detector.Config {
	return detector.Config{
		ContainerSelector: s.Detector.ContainerSelector,
		TargetSelectors:   append([]string(nil), s.Detector.TargetSelectors...),
		RequiredPath:      s.Detector.RequiredPath,
		RequiredQuery:     s.Detector.RequiredQuery,
		ContainerPolicy:   s.Detector.Container.Policy(),
		TargetPolicy:      s.Detector.Target.Policy(),
		LoadPolicy:        s.Detector.Load.Policy(),
	}
}

// BridgeConfig builds the coordinator configuration.
func (s *Settings) BridgeConfig() bridge.Config {
	return bridge.Config{
		WorkerScriptURL: s.Bridge.WorkerScriptURL,
		ReplyTimeout:    time.Duration(s.Bridge.ReplyTimeoutMs) * time.Millisecond,
		RecheckInterval: time.Duration(s.Bridge.RecheckIntervalMs) * time.Millisecond,
		QuickSelector:   s.Detector.QuickSelector,
	}
}

// PollInterval returns the page refresh interval.
func (s *Settings) PollInterval() time.Duration {
	d, err := time.ParseDuration(s.Page.PollInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// FetchTimeout returns the per-request timeout of the page source.
func (s *Settings) FetchTimeout() time.Duration {
	d, err := time.ParseDuration(s.Page.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// LoggerLevel maps log_level to a logger level.
func (s *Settings) LoggerLevel() pkgLogger.LogLevel {
	switch strings.ToLower(s.LogLevel) {
	case "debug":
		return pkgLogger.LogLevelDebug
	case "warn", "warning":
		return pkgLogger.LogLevelWarn
	case "error":
		return pkgLogger.LogLevelError
	default:
		return pkgLogger.LogLevelInfo
	}
}

// applyDefaults fills in missing fields with default values
func applyDefaults(settings *Settings) {
	defaults := GetDefaultSettings()

	if settings.Page.URL == "" {
		settings.Page.URL = defaults.Page.URL
	}
	if settings.Page.PollInterval == "" {
		settings.Page.PollInterval = defaults.Page.PollInterval
	}
	if settings.Page.Timeout == "" {
		settings.Page.Timeout = defaults.Page.Timeout
	}

	d := &settings.Detector
	if d.ContainerSelector == "" {
		d.ContainerSelector = defaults.Detector.ContainerSelector
	}
	if len(d.TargetSelectors) == 0 {
		d.TargetSelectors = defaults.Detector.TargetSelectors
	}
	if d.QuickSelector == "" {
		d.QuickSelector = defaults.Detector.QuickSelector
	}
	if d.RequiredPath == "" {
		d.RequiredPath = defaults.Detector.RequiredPath
	}
	if d.RequiredQuery == "" {
		d.RequiredQuery = defaults.Detector.RequiredQuery
	}
	if d.Container.MaxAttempts == 0 && len(d.Container.DelaysMs) == 0 {
		d.Container = defaults.Detector.Container
	}
	if d.Target.MaxAttempts == 0 && len(d.Target.DelaysMs) == 0 {
		d.Target = defaults.Detector.Target
	}
	if d.Load.MaxAttempts == 0 && len(d.Load.DelaysMs) == 0 {
		d.Load = defaults.Detector.Load
	}

	if settings.Bridge.WorkerScriptURL == "" {
		settings.Bridge.WorkerScriptURL = defaults.Bridge.WorkerScriptURL
	}
	if settings.Bridge.ReplyTimeoutMs == 0 {
		settings.Bridge.ReplyTimeoutMs = defaults.Bridge.ReplyTimeoutMs
	}
	if settings.Bridge.RecheckIntervalMs == 0 {
		settings.Bridge.RecheckIntervalMs = defaults.Bridge.RecheckIntervalMs
	}
	if settings.Channel.BufferSize == 0 {
		settings.Channel.BufferSize = defaults.Channel.BufferSize
	}
	if settings.Control.Addr == "" {
		settings.Control.Addr = defaults.Control.Addr
	}
	if settings.LogLevel == "" {
		settings.LogLevel = defaults.LogLevel
	}
}

// ValidateSettings validates the settings configuration
func ValidateSettings(settings *Settings) error {
	u, err := url.Parse(settings.Page.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("page url must be an absolute http(s) URL, got %q", settings.Page.URL)
	}
	if _, err := time.ParseDuration(settings.Page.PollInterval); err != nil {
		return fmt.Errorf("invalid poll_interval %q: %w", settings.Page.PollInterval, err)
	}

	if err := settings.DetectorConfig().Validate(); err != nil {
		return fmt.Errorf("invalid detector settings: %w", err)
	}
	for name, p := range map[string]PolicySettings{
		"container": settings.Detector.Container,
		"target":    settings.Detector.Target,
		"load":      settings.Detector.Load,
	} {
		for _, ms := range p.DelaysMs {
			if ms < 0 {
				return fmt.Errorf("%s delays must not be negative", name)
			}
		}
	}

	if err := settings.BridgeConfig().Validate(); err != nil {
		return fmt.Errorf("invalid bridge settings: %w", err)
	}
	if _, err := url.Parse(settings.Bridge.WorkerScriptURL); err != nil {
		return fmt.Errorf("invalid worker_script_url: %w", err)
	}

	if settings.Channel.BufferSize < 1 {
		return fmt.Errorf("channel buffer_size must be positive")
	}
	if settings.Control.Addr == "" {
		return fmt.Errorf("control addr is required")
	}

	return nil
}

// createDefaultSettingsFile creates a default settings.json file in ~/.framebridge/
func createDefaultSettingsFile() (*Settings, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return GetDefaultSettings(), nil
	}

	settingsPath := filepath.Join(homeDir, ".framebridge", "settings.json")
	return createSettingsFileAtPath(settingsPath)
}

// createSettingsFileAtPath creates a default settings file at the specified path
func createSettingsFileAtPath(settingsPath string) (*Settings, error) {
	settings := NewSettingsWithPath(settingsPath)

	if err := settings.Save(); err != nil {
		return GetDefaultSettings(), nil
	}

	log := pkgLogger.NewComponentLogger("settings")
	log.InfoWithIntention(pkgLogger.IntentionConfig, "Created default settings file", "path", settingsPath)
	log.InfoWithIntention(pkgLogger.IntentionStatus, "You can edit this file to customize your configuration")

	return settings, nil
}
