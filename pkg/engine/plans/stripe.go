package plans

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/client"
)

// StripeResolver resolves a user's plan from their active Stripe
// subscription. The subscription price's lookup key names the plan
// (e.g. "student", "pro"); users without an active subscription are free.
type StripeResolver struct {
	api *client.API

	// CustomerID maps a platform user ID to a Stripe customer ID. Defaults
	// to the identity mapping, which matches how the platform provisions
	// customers.
	CustomerID func(userID string) string
}

// NewStripeResolver creates a resolver on the given API key.
func NewStripeResolver(apiKey string) *StripeResolver {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &StripeResolver{api: api}
}

func (r *StripeResolver) Resolve(ctx context.Context, userID string) (Plan, error) {
	customerID := userID
	if r.CustomerID != nil {
		customerID = r.CustomerID(userID)
	}

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String(string(stripe.SubscriptionStatusActive)),
	}
	params.Context = ctx

	iter := r.api.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			if name := planNameFromPrice(item.Price); name != "" {
				return ByName(name), nil
			}
		}
	}
	if err := iter.Err(); err != nil {
		return Plan{}, fmt.Errorf("list stripe subscriptions for %s: %w", customerID, err)
	}
	return ByName(PlanFree), nil
}

func planNameFromPrice(price *stripe.Price) string {
	if price.LookupKey != "" {
		if _, ok := Defaults[price.LookupKey]; ok {
			return price.LookupKey
		}
	}
	if name, ok := price.Metadata["teachback_plan"]; ok {
		return name
	}
	return ""
}
