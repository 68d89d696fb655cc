package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// mergeFromFile deep-merges the YAML at envPath over cfg. Keys absent from the
// overlay keep their base values, including inside nested sections.
func mergeFromFile(cfg *Config, envPath string) error {
	envData, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("failed to read env config: %w", err)
	}

	baseData, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal base config: %w", err)
	}

	var baseValue map[string]any
	if err := yaml.Unmarshal(baseData, &baseValue); err != nil {
		return fmt.Errorf("failed to parse base config: %w", err)
	}

	var envValue map[string]any
	if err := yaml.Unmarshal(envData, &envValue); err != nil {
		return fmt.Errorf("failed to parse env config: %w", err)
	}

	mergedData, err := yaml.Marshal(deepMerge(baseValue, envValue))
	if err != nil {
		return fmt.Errorf("failed to marshal merged config: %w", err)
	}

	var merged Config
	if err := yaml.Unmarshal(mergedData, &merged); err != nil {
		return fmt.Errorf("failed to parse merged config: %w", err)
	}
	*cfg = merged
	return nil
}

func deepMerge(base, overlay map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range overlay {
		if baseMap, ok := result[k].(map[string]any); ok {
			if overlayMap, ok := v.(map[string]any); ok {
				result[k] = deepMerge(baseMap, overlayMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}
