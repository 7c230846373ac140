package profiles

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// Profile is one named preset: which models a request enables and the
// synthesis weight overrides it carries.
type Profile struct {
	Description string             `yaml:"description,omitempty"`
	Models      map[string]bool    `yaml:"models,omitempty"`
	Weights     map[string]float64 `yaml:"weights,omitempty"`
}

// Store holds the presets of one profiles file. Iteration order is file
// order, so listings read the way the file was written.
type Store struct {
	profiles *orderedmap.OrderedMap[string, Profile]
}

// Load reads and parses a profiles file. The file is a mapping of profile
// name to preset:
//
//	fast:
//	  models: {gpt: true, claude: false}
//	  weights: {gpt: 1.5}
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read profiles file %s", path)
	}
	store, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "profiles file %s", path)
	}
	return store, nil
}

func Parse(data []byte) (*Store, error) {
	store := &Store{profiles: orderedmap.New[string, Profile]()}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "parse profiles yaml")
	}
	if len(doc.Content) == 0 {
		return store, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.New("profiles root is not a mapping")
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var p Profile
		if err := root.Content[i+1].Decode(&p); err != nil {
			return nil, errors.Wrapf(err, "decode profile %q", name)
		}
		store.profiles.Set(name, p)
	}
	return store, nil
}

func (s *Store) Get(name string) (Profile, bool) {
	if s == nil || s.profiles == nil {
		return Profile{}, false
	}
	return s.profiles.Get(name)
}

func (s *Store) Names() []string {
	if s == nil || s.profiles == nil {
		return nil
	}
	names := make([]string, 0, s.profiles.Len())
	for pair := s.profiles.Oldest(); pair != nil; pair = pair.Next() {
		names = append(names, pair.Key)
	}
	return names
}

func (s *Store) Len() int {
	if s == nil || s.profiles == nil {
		return 0
	}
	return s.profiles.Len()
}

// DefaultPath is the per-user profiles file location.
func DefaultPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user config dir")
	}
	return filepath.Join(configDir, "chorus", "profiles.yaml"), nil
}
