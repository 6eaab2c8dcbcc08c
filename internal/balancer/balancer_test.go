package balancer

import (
	"testing"

	"github.com/a2z2k25/connmgr/internal/model"
)

func makeEndpoint(id string, typ model.EndpointType, healthy bool) *model.Endpoint {
	ep := model.NewEndpoint(id, "wss://"+id+".example.com/ws", typ)
	ep.SetHealthy(healthy)
	return ep
}

func TestSelectReturnsNilWhenEmpty(t *testing.T) {
	b := New(nil)
	if got := b.Select(nil, Criteria{}); got != nil {
		t.Errorf("Select(nil) = %v, want nil", got)
	}
}

func TestSelectSkipsUnhealthy(t *testing.T) {
	b := New(nil)
	eps := []*model.Endpoint{
		makeEndpoint("a", model.EndpointPrimary, false),
		makeEndpoint("b", model.EndpointPrimary, true),
		makeEndpoint("c", model.EndpointPrimary, false),
	}

	for i := 0; i < 5; i++ {
		got := b.Select(eps, Criteria{})
		if got == nil || got.ID != "b" {
			t.Fatalf("Select = %v, want endpoint b", got)
		}
	}
}

func TestSelectAllUnhealthyReturnsNil(t *testing.T) {
	b := New(nil)
	eps := []*model.Endpoint{
		makeEndpoint("a", model.EndpointPrimary, false),
		makeEndpoint("b", model.EndpointBackup, false),
	}
	if got := b.Select(eps, Criteria{}); got != nil {
		t.Errorf("Select = %v, want nil when nothing is healthy", got)
	}
}

func TestSelectFiltersByType(t *testing.T) {
	b := New(nil)
	eps := []*model.Endpoint{
		makeEndpoint("a", model.EndpointPrimary, true),
		makeEndpoint("b", model.EndpointBackup, true),
	}

	got := b.Select(eps, Criteria{Type: model.EndpointBackup})
	if got == nil || got.ID != "b" {
		t.Errorf("Select = %v, want backup endpoint b", got)
	}
	if got := b.Select(eps, Criteria{Type: model.EndpointEmergency}); got != nil {
		t.Errorf("Select = %v, want nil for unmatched type", got)
	}
}

func TestRoundRobinVisitsAllHealthyOnce(t *testing.T) {
	b := New(NewRoundRobin())
	eps := []*model.Endpoint{
		makeEndpoint("a", model.EndpointPrimary, true),
		makeEndpoint("b", model.EndpointPrimary, true),
		makeEndpoint("c", model.EndpointPrimary, true),
	}

	seen := make(map[string]int)
	for i := 0; i < len(eps); i++ {
		got := b.Select(eps, Criteria{})
		if got == nil {
			t.Fatal("Select returned nil with healthy endpoints")
		}
		seen[got.ID]++
	}
	for _, ep := range eps {
		if seen[ep.ID] != 1 {
			t.Errorf("endpoint %s picked %d times in one cycle, want 1", ep.ID, seen[ep.ID])
		}
	}
}

func TestRoundRobinCursorSurvivesHealthChanges(t *testing.T) {
	rr := NewRoundRobin()
	b := New(rr)
	a := makeEndpoint("a", model.EndpointPrimary, true)
	c := makeEndpoint("b", model.EndpointPrimary, true)
	eps := []*model.Endpoint{a, c}

	if got := b.Select(eps, Criteria{}); got.ID != "a" {
		t.Fatalf("first pick = %v, want a", got.ID)
	}
	if got := b.Select(eps, Criteria{}); got.ID != "b" {
		t.Fatalf("second pick = %v, want b", got.ID)
	}

	// Shrink the healthy subset for one pick; the cursor keeps advancing
	// rather than resetting to the front.
	c.SetHealthy(false)
	if got := b.Select(eps, Criteria{}); got.ID != "a" {
		t.Errorf("singleton pick = %v, want the only healthy endpoint", got.ID)
	}

	c.SetHealthy(true)
	if got := b.Select(eps, Criteria{}); got.ID != "b" {
		t.Errorf("post-recovery pick = %v, want b (cursor not reset)", got.ID)
	}
}

func TestWeightedDistribution(t *testing.T) {
	b := New(NewWeighted())
	heavy := makeEndpoint("heavy", model.EndpointPrimary, true)
	heavy.Weight = 3
	light := makeEndpoint("light", model.EndpointPrimary, true)
	light.Weight = 1
	eps := []*model.Endpoint{heavy, light}

	counts := make(map[string]int)
	for i := 0; i < 8; i++ {
		got := b.Select(eps, Criteria{})
		counts[got.ID]++
	}
	if counts["heavy"] != 6 || counts["light"] != 2 {
		t.Errorf("distribution = %v, want heavy:6 light:2 over 8 picks", counts)
	}
}

func TestWeightedZeroWeightCountsAsOne(t *testing.T) {
	b := New(NewWeighted())
	a := makeEndpoint("a", model.EndpointPrimary, true) // weight 0 -> treated as 1
	c := makeEndpoint("b", model.EndpointPrimary, true)
	c.Weight = 1
	eps := []*model.Endpoint{a, c}

	counts := make(map[string]int)
	for i := 0; i < 4; i++ {
		counts[b.Select(eps, Criteria{}).ID]++
	}
	if counts["a"] != 2 || counts["b"] != 2 {
		t.Errorf("distribution = %v, want an even split", counts)
	}
}

func TestPriorityPrefersLowestGroup(t *testing.T) {
	b := New(NewPriority())
	p1a := makeEndpoint("p1a", model.EndpointPrimary, true)
	p1a.Priority = 1
	p1b := makeEndpoint("p1b", model.EndpointPrimary, true)
	p1b.Priority = 1
	p2 := makeEndpoint("p2", model.EndpointBackup, true)
	p2.Priority = 2
	eps := []*model.Endpoint{p2, p1a, p1b}

	counts := make(map[string]int)
	for i := 0; i < 6; i++ {
		counts[b.Select(eps, Criteria{}).ID]++
	}
	if counts["p2"] != 0 {
		t.Errorf("low-priority endpoint picked %d times, want 0", counts["p2"])
	}
	if counts["p1a"] != 3 || counts["p1b"] != 3 {
		t.Errorf("distribution = %v, want even round-robin within the best group", counts)
	}
}

func TestPriorityFallsBackWhenBestGroupUnhealthy(t *testing.T) {
	b := New(NewPriority())
	p1 := makeEndpoint("p1", model.EndpointPrimary, false)
	p1.Priority = 1
	p2 := makeEndpoint("p2", model.EndpointBackup, true)
	p2.Priority = 2
	eps := []*model.Endpoint{p1, p2}

	got := b.Select(eps, Criteria{})
	if got == nil || got.ID != "p2" {
		t.Errorf("Select = %v, want the healthy backup", got)
	}
}
