package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xiy/petpulse/pkg/types"
)

type rosterFile struct {
	Bots []types.Bot `yaml:"bots"`
}

// activeFlags is decoded separately so an omitted "active" key can default
// to true.
type activeFlags struct {
	Bots []struct {
		Active *bool `yaml:"active"`
	} `yaml:"bots"`
}

// LoadRoster reads the bot roster YAML at path and validates every entry.
// Bots are active unless the file says otherwise.
func LoadRoster(path string) ([]types.Bot, error) {
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}
	var rf rosterFile
	if err := yaml.Unmarshal(b, &rf); err != nil {
		return nil, fmt.Errorf("parse roster yaml: %w", err)
	}
	var flags activeFlags
	if err := yaml.Unmarshal(b, &flags); err != nil {
		return nil, fmt.Errorf("parse roster yaml: %w", err)
	}
	if len(rf.Bots) == 0 {
		return nil, errors.New("roster has no bots")
	}

	seen := make(map[string]bool, len(rf.Bots))
	for i := range rf.Bots {
		bot := &rf.Bots[i]
		bot.Active = flags.Bots[i].Active == nil || *flags.Bots[i].Active
		if err := bot.Validate(); err != nil {
			return nil, fmt.Errorf("roster entry %d: %w", i, err)
		}
		if seen[bot.ID] {
			return nil, fmt.Errorf("roster entry %d: duplicate bot id %q", i, bot.ID)
		}
		seen[bot.ID] = true
	}
	return rf.Bots, nil
}
