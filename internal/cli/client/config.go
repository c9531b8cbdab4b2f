package client

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	envAPIKey = "OUTREACH_API_KEY"
	envAPIURL = "OUTREACH_API_URL"

	defaultAPIURL = "http://localhost:8080"
	apiKeyPrefix  = "otr_"
)

// GlobalConfig is the credential file written by 'outreach auth login'
type GlobalConfig struct {
	APIKey string `json:"apiKey"`
	APIURL string `json:"apiUrl"`
}

var (
	getConfigDirFunc  = defaultGetConfigDir
	getConfigPathFunc = defaultGetConfigPath
)

func defaultGetConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "outreach"), nil
}

func defaultGetConfigPath() (string, error) {
	configDir, err := getConfigDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.json"), nil
}

// GetConfigDir returns the platform-specific configuration directory
func GetConfigDir() (string, error) {
	return getConfigDirFunc()
}

// GetConfigPath returns the full path to config.json
func GetConfigPath() (string, error) {
	return getConfigPathFunc()
}

// LoadGlobalConfig reads config.json. A missing file yields a nil config.
func LoadGlobalConfig() (*GlobalConfig, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GlobalConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// SaveGlobalConfig writes config.json readable by the owner only
func SaveGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DeleteGlobalConfig removes config.json if present
func DeleteGlobalConfig() error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}
	if err := os.Remove(configPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// IsValidAPIKey reports whether key has the otr_ + 64 hex chars shape
func IsValidAPIKey(key string) bool {
	hexPart, ok := strings.CutPrefix(key, apiKeyPrefix)
	if !ok || len(hexPart) != 64 {
		return false
	}
	_, err := hex.DecodeString(hexPart)
	return err == nil
}

// CredentialSource names where the API key came from
type CredentialSource string

const (
	SourceFlag         CredentialSource = "flag"
	SourceEnv          CredentialSource = "env"
	SourceGlobalConfig CredentialSource = "global_config"
	SourceNone         CredentialSource = "none"
)

// Credentials are the resolved API key and base URL
type Credentials struct {
	APIKey string
	APIURL string
	// Source is where APIKey was found.
	Source CredentialSource
}

// ResolveCredentials resolves key and URL independently through the cascade
// flag, environment, global config. The URL falls back to the local default.
func ResolveCredentials(flagAPIKey, flagAPIURL string) (Credentials, error) {
	creds := Credentials{Source: SourceNone}

	switch {
	case flagAPIKey != "":
		creds.APIKey, creds.Source = flagAPIKey, SourceFlag
	case os.Getenv(envAPIKey) != "":
		creds.APIKey, creds.Source = os.Getenv(envAPIKey), SourceEnv
	}
	creds.APIURL = flagAPIURL
	if creds.APIURL == "" {
		creds.APIURL = os.Getenv(envAPIURL)
	}

	if creds.APIKey == "" || creds.APIURL == "" {
		global, err := LoadGlobalConfig()
		if err != nil {
			return creds, err
		}
		if global != nil {
			if creds.APIKey == "" && global.APIKey != "" {
				creds.APIKey, creds.Source = global.APIKey, SourceGlobalConfig
			}
			if creds.APIURL == "" {
				creds.APIURL = global.APIURL
			}
		}
	}

	if creds.APIURL == "" {
		creds.APIURL = defaultAPIURL
	}
	creds.APIURL = strings.TrimRight(creds.APIURL, "/")
	return creds, nil
}
