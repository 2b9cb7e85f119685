package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-engine/internal/model"
	"gopkg.in/yaml.v3"
)

// PolicyFile is the optional YAML document that overrides anti-cheat thresholds.
//
//	default:
//	  demotion_threshold: 5
//	  max_violations: 10
//	exams:
//	  3f0c...: { max_violations: 3 }
type PolicyFile struct {
	Default model.Policy            `yaml:"default"`
	Exams   map[string]model.Policy `yaml:"exams"`
}

// Policies resolves the anti-cheat policy of an exam.
type Policies struct {
	Default model.Policy
	Exams   map[uuid.UUID]model.Policy
}

// For returns the configured policy of examID, or the default.
func (p *Policies) For(examID uuid.UUID) model.Policy {
	if ep, ok := p.Exams[examID]; ok {
		merged := p.Default
		if ep.DemotionThreshold > 0 {
			merged.DemotionThreshold = ep.DemotionThreshold
		}
		if ep.MaxViolations > 0 {
			merged.MaxViolations = ep.MaxViolations
		}
		return merged
	}
	return p.Default
}

// LoadPolicies builds the policy table from the environment defaults and, when
// cfg.PolicyFile is set, the YAML file on top of them.
func LoadPolicies(cfg *Config) (*Policies, error) {
	p := &Policies{
		Default: model.Policy{
			DemotionThreshold: cfg.DemotionThreshold,
			MaxViolations:     cfg.MaxViolations,
		},
		Exams: map[uuid.UUID]model.Policy{},
	}
	if cfg.PolicyFile == "" {
		return p, nil
	}

	data, err := os.ReadFile(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return p, p.merge(data)
}

func (p *Policies) merge(data []byte) error {
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}

	if file.Default.DemotionThreshold > 0 {
		p.Default.DemotionThreshold = file.Default.DemotionThreshold
	}
	if file.Default.MaxViolations > 0 {
		p.Default.MaxViolations = file.Default.MaxViolations
	}
	for raw, ep := range file.Exams {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("policy file: exam id %q: %w", raw, err)
		}
		p.Exams[id] = ep
	}
	return nil
}
