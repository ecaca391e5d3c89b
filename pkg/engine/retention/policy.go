// Package retention ages out session detail rows per billing plan while
// preserving summaries. It runs as a daily batch and again immediately when
// a plan downgrade shortens a user's retention window.
package retention

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/luminalearn/teachback/pkg/engine/plans"
)

// Policy is the retention configuration artifact.
type Policy struct {
	RetentionPolicies map[string]PlanPolicy `yaml:"retention_policies"`
	PreserveSummaries bool                  `yaml:"preserve_summaries"`
	LogDeletions      bool                  `yaml:"log_deletions"`
}

// PlanPolicy is the per-plan knob.
type PlanPolicy struct {
	Days int `yaml:"days"`
}

// DefaultPolicy returns the built-in retention windows.
func DefaultPolicy() Policy {
	return Policy{
		RetentionPolicies: map[string]PlanPolicy{
			plans.PlanFree:    {Days: 7},
			plans.PlanStudent: {Days: 30},
			plans.PlanPro:     {Days: 90},
			plans.PlanAdmin:   {Days: 365},
		},
		PreserveSummaries: true,
		LogDeletions:      true,
	}
}

// Days returns the retention window for a plan name. Unknown plans get the
// free window, the shortest, so a bad plan name never retains longer than
// intended.
func (p Policy) Days(plan string) int {
	if pp, ok := p.RetentionPolicies[plan]; ok && pp.Days > 0 {
		return pp.Days
	}
	if pp, ok := p.RetentionPolicies[plans.PlanFree]; ok && pp.Days > 0 {
		return pp.Days
	}
	return 7
}

// LoadPolicy reads a policy document. A missing file or malformed document
// falls back to the defaults rather than failing the service.
func LoadPolicy(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return DefaultPolicy(), err
	}
	defer f.Close()
	return ParsePolicy(f)
}

// ParsePolicy decodes a policy document, falling back to defaults on
// malformed input.
func ParsePolicy(r io.Reader) (Policy, error) {
	var p Policy
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return DefaultPolicy(), fmt.Errorf("parse retention policy: %w", err)
	}
	if len(p.RetentionPolicies) == 0 {
		return DefaultPolicy(), nil
	}
	return p, nil
}
