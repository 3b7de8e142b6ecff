package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type ConfigFormat interface {
	Name() string
	Extensions() []string
	Unmarshal(data []byte) (map[string]interface{}, error)
	Marshal(config map[string]interface{}) ([]byte, error)
}

type JSONFormat struct{}

func (JSONFormat) Name() string { return "json" }

func (JSONFormat) Extensions() []string { return []string{".json"} }

func (JSONFormat) Unmarshal(data []byte) (map[string]interface{}, error) {
	var config map[string]interface{}
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return config, nil
}

func (JSONFormat) Marshal(config map[string]interface{}) ([]byte, error) {
	return json.MarshalIndent(config, "", "  ")
}

type YAMLFormat struct{}

func (YAMLFormat) Name() string { return "yaml" }

func (YAMLFormat) Extensions() []string { return []string{".yaml", ".yml"} }

func (YAMLFormat) Unmarshal(data []byte) (map[string]interface{}, error) {
	var config map[string]interface{}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return normalize(config), nil
}

func (YAMLFormat) Marshal(config map[string]interface{}) ([]byte, error) {
	return yaml.Marshal(config)
}

type TOMLFormat struct{}

func (TOMLFormat) Name() string { return "toml" }

func (TOMLFormat) Extensions() []string { return []string{".toml"} }

func (TOMLFormat) Unmarshal(data []byte) (map[string]interface{}, error) {
	var config map[string]interface{}
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("invalid TOML: %w", err)
	}
	return config, nil
}

func (TOMLFormat) Marshal(config map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var formats = []ConfigFormat{JSONFormat{}, YAMLFormat{}, TOMLFormat{}}

// FormatFor picks a format from the file extension of path.
func FormatFor(path string) (ConfigFormat, error) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range formats {
		for _, e := range f.Extensions() {
			if e == ext {
				return f, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, ext)
}

// FormatByName resolves json, yaml or toml.
func FormatByName(name string) (ConfigFormat, error) {
	for _, f := range formats {
		if f.Name() == strings.ToLower(name) {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}
