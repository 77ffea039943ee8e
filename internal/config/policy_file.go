package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agen-co/agenshield/internal/domain/policy"
)

// policyFile is the YAML shape of a standalone policy file.
type policyFile struct {
	Policies []PolicyConfig `yaml:"policies"`
}

// LoadPolicyFile reads seed policies from a standalone YAML file. The file
// carries a top-level "policies" list in the same shape as the main config.
func LoadPolicyFile(path string) ([]policy.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	out := make([]policy.Policy, 0, len(pf.Policies))
	seen := make(map[string]struct{}, len(pf.Policies))
	for i, pc := range pf.Policies {
		if pc.ID == "" {
			return nil, fmt.Errorf("policy file %s: policies[%d]: id is required", path, i)
		}
		if _, dup := seen[pc.ID]; dup {
			return nil, fmt.Errorf("policy file %s: duplicate policy id %q", path, pc.ID)
		}
		seen[pc.ID] = struct{}{}
		out = append(out, pc.ToPolicy())
	}
	return out, nil
}
