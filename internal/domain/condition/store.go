package condition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ehr/refiner/internal/refiner/section"
)

// Store is an in-memory configuration source loaded from YAML. It implements
// ConditionRepository, CustomCodeRepository and PolicyRepository.
type Store struct {
	conditions map[string]Condition
	ids        []string
	custom     map[string]map[string][]json.RawMessage
	policies   map[string][]section.Policy
}

type storeFile struct {
	Conditions    []Condition                 `yaml:"conditions"`
	Jurisdictions map[string]jurisdictionFile `yaml:"jurisdictions"`
}

type jurisdictionFile struct {
	CustomCodes map[string][]yaml.Node `yaml:"custom_codes"`
	Sections    []section.Policy      `yaml:"sections"`
}

// LoadStoreFile reads a YAML store from path.
func LoadStoreFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open condition store: %w", err)
	}
	defer f.Close()
	return LoadStore(f)
}

// LoadStore decodes a YAML store. Condition IDs must be unique.
func LoadStore(r io.Reader) (*Store, error) {
	var file storeFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode condition store: %w", err)
	}

	s := &Store{
		conditions: make(map[string]Condition, len(file.Conditions)),
		custom:     make(map[string]map[string][]json.RawMessage),
		policies:   make(map[string][]section.Policy),
	}
	for _, c := range file.Conditions {
		if c.ID == "" {
			return nil, fmt.Errorf("condition store: condition %q has no id", c.DisplayName)
		}
		if _, dup := s.conditions[c.ID]; dup {
			return nil, fmt.Errorf("condition store: duplicate condition %s", c.ID)
		}
		s.conditions[c.ID] = c
		s.ids = append(s.ids, c.ID)
	}
	sort.Strings(s.ids)

	for name, j := range file.Jurisdictions {
		if len(j.Sections) > 0 {
			s.policies[name] = j.Sections
		}
		for id, lists := range j.CustomCodes {
			for i := range lists {
				raw, err := nodeJSON(&lists[i])
				if err != nil {
					return nil, fmt.Errorf("condition store: %s custom codes for %s: %w", name, id, err)
				}
				if s.custom[name] == nil {
					s.custom[name] = make(map[string][]json.RawMessage)
				}
				s.custom[name][id] = append(s.custom[name][id], raw)
			}
		}
	}
	return s, nil
}

func nodeJSON(n *yaml.Node) (json.RawMessage, error) {
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

func (s *Store) ByTriggerCodes(_ context.Context, codes []string) ([]Condition, error) {
	var out []Condition
	for _, id := range s.ids {
		c := s.conditions[id]
		if len(c.TriggerOverlap(codes)) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) GetByID(_ context.Context, id string) (*Condition, error) {
	c, ok := s.conditions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (s *Store) List(_ context.Context) ([]Condition, error) {
	out := make([]Condition, 0, len(s.ids))
	for _, id := range s.ids {
		out = append(out, s.conditions[id])
	}
	return out, nil
}

func (s *Store) CustomCodes(_ context.Context, jurisdiction, conditionID string) ([]json.RawMessage, error) {
	return s.custom[jurisdiction][conditionID], nil
}

func (s *Store) SectionPolicies(_ context.Context, jurisdiction string) ([]section.Policy, error) {
	return s.policies[jurisdiction], nil
}
