package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fpt/framebridge/internal/repository"
)

const (
	settingsDirName  = ".framebridge"
	settingsFileName = "settings.json"
)

// settingsFileNames are tried in order inside each settings directory.
var settingsFileNames = []string{settingsFileName, "settings.yaml", "settings.yml"}

// FileSettingsRepository represents file-persisted settings repository.
// Files ending in .yaml or .yml are stored as YAML; the repository always
// hands JSON to its callers.
type FileSettingsRepository struct {
	configPath string // Specific path (empty means search for file)
}

// InMemorySettingsRepository represents in-memory-only settings repository
type InMemorySettingsRepository struct {
	data []byte
}

// NewFileSettingsRepository creates a new file-based settings repository
func NewFileSettingsRepository(configPath string) *FileSettingsRepository {
	return &FileSettingsRepository{
		configPath: configPath,
	}
}

// NewInMemorySettingsRepository creates a new in-memory settings repository
func NewInMemorySettingsRepository() *InMemorySettingsRepository {
	return &InMemorySettingsRepository{}
}

// FileSettingsRepository methods
func (fr *FileSettingsRepository) Load() ([]byte, error) {
	configPath := fr.configPath
	if configPath == "" {
		// Search for settings file
		foundPath, err := fr.FindSettingsFile()
		if err != nil {
			return nil, err
		}
		if foundPath == "" {
			return nil, repository.ErrNoSettings
		}
		configPath = foundPath
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("settings file does not exist: %s: %w", configPath, repository.ErrNoSettings)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	if isYAML(configPath) {
		return yamlToJSON(data)
	}
	return data, nil
}

func (fr *FileSettingsRepository) Save(data []byte) error {
	configPath := fr.configPath
	if configPath == "" {
		foundPath, _ := fr.FindSettingsFile()
		if foundPath != "" {
			configPath = foundPath
		} else {
			configPath = filepath.Join(settingsDirName, settingsFileName)
		}
	}

	if isYAML(configPath) {
		converted, err := jsonToYAML(data)
		if err != nil {
			return err
		}
		data = converted
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// FindSettingsFile searches .framebridge/settings.{json,yaml,yml} in the
// working directory, then in $HOME.
func (fr *FileSettingsRepository) FindSettingsFile() (string, error) {
	dirs := []string{settingsDirName}
	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(homeDir, settingsDirName))
	}

	for _, dir := range dirs {
		for _, name := range settingsFileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}
	return "", nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func yamlToJSON(data []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse YAML settings: %w", err)
	}
	if v == nil {
		v = map[string]any{}
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML settings: %w", err)
	}
	return out, nil
}

// jsonToYAML keeps key order by going through a yaml.Node; JSON is valid YAML.
func jsonToYAML(data []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}
	clearFlowStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return nil, fmt.Errorf("failed to encode YAML settings: %w", err)
	}
	return out, nil
}

func clearFlowStyle(n *yaml.Node) {
	n.Style &^= yaml.FlowStyle | yaml.DoubleQuotedStyle
	for _, c := range n.Content {
		clearFlowStyle(c)
	}
}

// InMemorySettingsRepository methods
func (mr *InMemorySettingsRepository) Load() ([]byte, error) {
	if mr.data == nil {
		return nil, repository.ErrNoSettings
	}
	return mr.data, nil
}

func (mr *InMemorySettingsRepository) Save(data []byte) error {
	mr.data = make([]byte, len(data))
	copy(mr.data, data)
	return nil
}

func (mr *InMemorySettingsRepository) FindSettingsFile() (string, error) {
	return "", nil
}
