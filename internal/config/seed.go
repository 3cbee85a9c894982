package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// AccountSeed is one entry of the YAML account bootstrap file
// (`accounts.yaml`: a flat list of {email, password} pairs). This is a thin
// loader with no dependency on the credential store or lifecycle worker —
// cmd/server decides what to do with the parsed seeds.
type AccountSeed struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// LoadAccountSeeds parses the YAML account bootstrap file at path. A missing
// file is not an error — the gateway runs fine with accounts added later via
// POST /admin/add_bot — but a present, malformed file is.
func LoadAccountSeeds(path string) ([]AccountSeed, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account seed file %s: %w", path, err)
	}

	var seeds []AccountSeed
	if err := yaml.Unmarshal(raw, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse account seed file %s: %w", path, err)
	}
	return seeds, nil
}
