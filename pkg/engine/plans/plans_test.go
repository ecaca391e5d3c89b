package plans

import (
	"context"
	"testing"
	"time"
)

func TestByName_UnknownFallsBackToFree(t *testing.T) {
	p := ByName("enterprise-deluxe")
	if p.Name != PlanFree {
		t.Fatalf("plan=%s, want free", p.Name)
	}
}

func TestDefaultsAreOrdered(t *testing.T) {
	free := ByName(PlanFree)
	student := ByName(PlanStudent)
	pro := ByName(PlanPro)

	if !(free.TextSessionsPerDay < student.TextSessionsPerDay && student.TextSessionsPerDay < pro.TextSessionsPerDay) {
		t.Fatal("session ceilings must increase with plan tier")
	}
	if free.MaxSessionDuration != 15*time.Minute {
		t.Fatalf("free duration=%v", free.MaxSessionDuration)
	}
}

func TestStaticResolver(t *testing.T) {
	r := Static{Users: map[string]string{"u1": PlanPro}}

	p, err := r.Resolve(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name != PlanPro {
		t.Fatalf("plan=%s", p.Name)
	}

	p, err = r.Resolve(context.Background(), "unknown")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.Name != PlanFree {
		t.Fatalf("plan=%s, want free for unlisted user", p.Name)
	}
}
