package assetshandler

import (
	"fmt"
	"os"

	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/assert"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/checkout"
	"github.com/PeterC02/Pokemon-Store-Bot-Final/app/pkg/fleet"

	"gopkg.in/yaml.v3"
)

type profilesFile struct {
	Profiles []checkout.Buyer `yaml:"profiles"`
}

// ParseProfiles decodes the buyer profiles. Every profile needs an email.
func ParseProfiles(data []byte) ([]checkout.Buyer, error) {
	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error unmarshalling profiles: %w", err)
	}

	if len(file.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined")
	}
	if len(file.Profiles) > fleet.MaxTasks {
		return nil, fmt.Errorf("%d profiles defined: %w", len(file.Profiles), fleet.ErrTooManyTasks)
	}
	for i, profile := range file.Profiles {
		if profile.Email == "" {
			return nil, fmt.Errorf("profile %d has no email", i)
		}
	}

	return file.Profiles, nil
}

func GetProfilesFromFile(path string) []checkout.Buyer {
	assert.Assert(path != "", "profiles file path cannot be empty", assert.AssertData{"path": path})

	data, err := os.ReadFile(path)
	assert.NoError(err, "error reading profiles file", assert.AssertData{"path": path})

	profiles, err := ParseProfiles(data)
	assert.NoError(err, "error parsing profiles file", assert.AssertData{"path": path})

	return profiles
}
