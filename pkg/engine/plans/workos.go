package plans

import (
	"context"
	"fmt"

	"github.com/workos/workos-go/v6/pkg/usermanagement"
)

// planOverrideKey is the WorkOS user metadata key admins set to pin a user
// to a plan regardless of billing (support comps, internal accounts).
const planOverrideKey = "teachback_plan"

// WorkOSDirectory reads user profiles from WorkOS User Management. It layers
// admin plan overrides on top of another resolver: if the user's metadata
// carries a plan override it wins, otherwise resolution falls through to the
// billing-backed resolver.
type WorkOSDirectory struct {
	client *usermanagement.Client
	next   Resolver
}

// NewWorkOSDirectory creates a directory on the given API key, delegating to
// next when no override is present.
func NewWorkOSDirectory(apiKey string, next Resolver) *WorkOSDirectory {
	return &WorkOSDirectory{
		client: usermanagement.NewClient(apiKey),
		next:   next,
	}
}

func (d *WorkOSDirectory) Resolve(ctx context.Context, userID string) (Plan, error) {
	user, err := d.client.GetUser(ctx, usermanagement.GetUserOpts{User: userID})
	if err != nil {
		return Plan{}, fmt.Errorf("workos get user %s: %w", userID, err)
	}

	if name, ok := user.Metadata[planOverrideKey]; ok && name != "" {
		return ByName(name), nil
	}
	if d.next != nil {
		return d.next.Resolve(ctx, userID)
	}
	return ByName(PlanFree), nil
}
