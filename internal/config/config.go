// Package config loads the application configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "RADIOBEACON_"

// App contains the full application configuration.
type App struct {
	Name                 string `yaml:"name"`
	DatabaseFile         string `yaml:"database_file"`
	CatalogFile          string `yaml:"catalog_file"`
	ExportDirectory      string `yaml:"export_directory"`
	LogLevel             string `yaml:"log_level"`
	ObservabilityAddress string `yaml:"observability_address"`
	APIAddress           string `yaml:"api_address"`
	MaintenanceInterval  int    `yaml:"maintenance_interval"`

	MQTTBrokerAddress string `yaml:"mqtt_broker_address"`
	MQTTPort          int    `yaml:"mqtt_port"`
	MQTTUsername      string `yaml:"mqtt_username"`
	MQTTPassword      string `yaml:"mqtt_password"`
	MQTTTopic         string `yaml:"mqtt_topic"`

	UploadURL       string `yaml:"upload_url"`
	TokenURL        string `yaml:"token_url"`
	VersionCheckURL string `yaml:"version_check_url"`
	UploadUser      string `yaml:"upload_user"`
	UploadPassword  string `yaml:"upload_password"`
	AnonymousUpload bool   `yaml:"anonymous_upload"`
	AnonymizeSSID   bool   `yaml:"anonymize_ssid"`
	KeepExportFiles bool   `yaml:"keep_export_files"`
	GPXVerbosity    int    `yaml:"gpx_verbosity"`

	DeviceManufacturer string `yaml:"device_manufacturer"`
	DeviceModel        string `yaml:"device_model"`
	DeviceRevision     string `yaml:"device_revision"`
	SoftwareID         string `yaml:"software_id"`
	SoftwareVersion    string `yaml:"software_version"`

	// ConfigPath records the file the configuration was loaded from, if any.
	ConfigPath string `yaml:"-"`
}

// New reads the configuration from file (if provided) and environment overrides.
func New(path string) (*App, error) {
	cfg := defaultConfig()

	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *App {
	return &App{
		Name:                 "Radiobeacon",
		DatabaseFile:         "radiobeacon.db",
		CatalogFile:          "",
		ExportDirectory:      "exports",
		LogLevel:             "INFO",
		ObservabilityAddress: ":2112",
		APIAddress:           ":8080",
		MaintenanceInterval:  360,
		MQTTBrokerAddress:    "127.0.0.1",
		MQTTPort:             1883,
		MQTTTopic:            "radiobeacon/scans/#",
		UploadURL:            "https://radiocells.org/uploads",
		TokenURL:             "https://radiocells.org/token",
		VersionCheckURL:      "https://radiocells.org/getclientversion",
		AnonymousUpload:      false,
		AnonymizeSSID:        false,
		KeepExportFiles:      false,
		GPXVerbosity:         1,
		DeviceManufacturer:   "unknown",
		DeviceModel:          "unknown",
		DeviceRevision:       "unknown",
		SoftwareID:           "Radiobeacon",
		SoftwareVersion:      "0.9.0",
	}
}

func (c *App) applyFile(path string) error {
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG_FILE")
	}
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.ConfigPath = path
	return nil
}

// applyEnv walks the yaml tags and looks up RADIOBEACON_<TAG_UPPER> for each.
func (c *App) applyEnv() error {
	value := reflect.ValueOf(c).Elem()
	typ := value.Type()

	for i := 0; i < typ.NumField(); i++ {
		tag := typ.Field(i).Tag.Get("yaml")
		if tag == "" || tag == "-" {
			continue
		}
		envName := envPrefix + strings.ToUpper(tag)
		raw, ok := os.LookupEnv(envName)
		if !ok {
			continue
		}

		field := value.Field(i)
		switch field.Kind() {
		case reflect.String:
			field.SetString(raw)
		case reflect.Int:
			parsed, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("config: %s must be an integer: %w", envName, err)
			}
			field.SetInt(int64(parsed))
		case reflect.Bool:
			parsed, err := parseBool(raw)
			if err != nil {
				return fmt.Errorf("config: %s must be a boolean: %w", envName, err)
			}
			field.SetBool(parsed)
		}
	}

	return nil
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return strconv.ParseBool(raw)
}
