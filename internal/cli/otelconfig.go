package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// otelCollectorConfig is the slice of an OpenTelemetry Collector config
// the viewer cares about: file exporters and their output paths.
type otelCollectorConfig struct {
	Exporters map[string]fileExporter `yaml:"exporters"`
}

type fileExporter struct {
	Path string `yaml:"path"`
}

// ParseOtelConfig reads an OpenTelemetry Collector config file and
// returns the directories its file exporters write to, sorted and
// deduplicated. Exporters named "file" or "file/<suffix>" count; other
// exporter types are ignored.
func ParseOtelConfig(configPath string) ([]string, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read otel config: %w", err)
	}

	var config otelCollectorConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse otel config: %w", err)
	}

	dirSet := make(map[string]struct{})
	for name, exporter := range config.Exporters {
		if exporter.Path == "" {
			continue
		}
		if name == "file" || strings.HasPrefix(name, "file/") {
			dirSet[filepath.Dir(exporter.Path)] = struct{}{}
		}
	}

	dirs := make([]string, 0, len(dirSet))
	for dir := range dirSet {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	return dirs, nil
}
