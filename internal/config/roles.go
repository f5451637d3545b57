package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hivemesh/relay/internal/model"
)

// rolesFile is the on-disk shape of the role seed file:
//
//	roles:
//	  publisher: [publish, subscribe]
//	  auditor: [read_history]
type rolesFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// LoadRoles parses the role -> permission seed file
func LoadRoles(path string) (map[model.Role][]model.Permission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}

	var parsed rolesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse roles file: %w", err)
	}
	if len(parsed.Roles) == 0 {
		return nil, fmt.Errorf("roles file %s defines no roles", path)
	}

	grants := make(map[model.Role][]model.Permission, len(parsed.Roles))
	for role, perms := range parsed.Roles {
		tokens := make([]model.Permission, 0, len(perms))
		for _, p := range perms {
			tokens = append(tokens, model.Permission(p))
		}
		grants[model.Role(role)] = tokens
	}

	return grants, nil
}
