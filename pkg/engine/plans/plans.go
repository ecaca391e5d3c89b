// Package plans resolves which billing plan a user is on and what that plan
// allows. Billing and identity are external collaborators: Stripe owns
// subscriptions, WorkOS owns user profiles. This package only reads them.
package plans

import (
	"context"
	"time"
)

// Plan names. These match the platform's billing plan identifiers.
const (
	PlanFree    = "free"
	PlanStudent = "student"
	PlanPro     = "pro"
	PlanAdmin   = "admin"
)

// Plan holds the teach-back ceilings derived from a billing plan.
type Plan struct {
	Name               string
	TextSessionsPerDay int
	VoiceTurnsPerDay   int
	MaxSessionDuration time.Duration
}

// Defaults is the built-in plan table.
var Defaults = map[string]Plan{
	PlanFree:    {Name: PlanFree, TextSessionsPerDay: 5, VoiceTurnsPerDay: 20, MaxSessionDuration: 15 * time.Minute},
	PlanStudent: {Name: PlanStudent, TextSessionsPerDay: 20, VoiceTurnsPerDay: 100, MaxSessionDuration: 30 * time.Minute},
	PlanPro:     {Name: PlanPro, TextSessionsPerDay: 50, VoiceTurnsPerDay: 500, MaxSessionDuration: time.Hour},
	PlanAdmin:   {Name: PlanAdmin, TextSessionsPerDay: 1000, VoiceTurnsPerDay: 10000, MaxSessionDuration: 2 * time.Hour},
}

// ByName returns the plan for name, falling back to free for unknown names
// so a billing hiccup never grants elevated ceilings.
func ByName(name string) Plan {
	if p, ok := Defaults[name]; ok {
		return p
	}
	return Defaults[PlanFree]
}

// Resolver maps a user to their current plan.
type Resolver interface {
	Resolve(ctx context.Context, userID string) (Plan, error)
}

// Static is a fixed user→plan mapping, used in tests and deployments
// without billing integration. Unlisted users resolve to free.
type Static struct {
	Users map[string]string
}

func (s Static) Resolve(ctx context.Context, userID string) (Plan, error) {
	if s.Users != nil {
		if name, ok := s.Users[userID]; ok {
			return ByName(name), nil
		}
	}
	return ByName(PlanFree), nil
}
