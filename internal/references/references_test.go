package references

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"montage/internal/services"
)

type scriptedSource struct {
	responses []sourceResponse
	calls     int
}

type sourceResponse struct {
	assigned Assignment
	settled  bool
	err      error
}

func (s *scriptedSource) Assignments(ctx context.Context) (Assignment, bool, error) {
	if s.calls >= len(s.responses) {
		last := s.responses[len(s.responses)-1]
		s.calls++
		return last.assigned, last.settled, last.err
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp.assigned, resp.settled, resp.err
}

func TestResolveUsesSettledAssignment(t *testing.T) {
	want := Assignment{0: {"https://refs.example/a.png"}}
	source := &scriptedSource{responses: []sourceResponse{
		{settled: false},
		{assigned: want, settled: true},
	}}
	var sleeps []time.Duration
	resolver := NewResolver(source,
		WithWaitBudget(10*time.Second),
		WithPollInterval(time.Second),
		WithSleeper(func(d time.Duration) { sleeps = append(sleeps, d) }),
	)

	got, err := resolver.Resolve(context.Background(), []string{"https://refs.example/a.png"}, []string{"a scene"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("assignment = %v, want %v", got, want)
	}
	if source.calls != 2 {
		t.Fatalf("expected 2 checks, got %d", source.calls)
	}
	if len(sleeps) != 1 || sleeps[0] != time.Second {
		t.Fatalf("sleeps = %v", sleeps)
	}
}

func TestResolveFallsBackAfterBudget(t *testing.T) {
	source := &scriptedSource{responses: []sourceResponse{{settled: false}}}
	resolver := NewResolver(source,
		WithWaitBudget(4*time.Second),
		WithPollInterval(time.Second),
		WithSleeper(func(time.Duration) {}),
	)

	got, err := resolver.Resolve(context.Background(),
		[]string{"https://refs.example/cabin-interior.png"},
		[]string{"inside the cabin at night"},
	)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if source.calls != 4 {
		t.Fatalf("expected 4 checks for a 4s budget at 1s, got %d", source.calls)
	}
	if len(got[0]) != 1 {
		t.Fatalf("heuristic fallback missing: %v", got)
	}
}

func TestResolveToleratesTransientSourceErrors(t *testing.T) {
	want := Assignment{0: {"https://refs.example/a.png"}}
	source := &scriptedSource{responses: []sourceResponse{
		{err: services.Wrap(services.ErrTransient, "refs", "query", "gateway hiccup", nil)},
		{assigned: want, settled: true},
	}}
	resolver := NewResolver(source,
		WithWaitBudget(10*time.Second),
		WithPollInterval(time.Second),
		WithSleeper(func(time.Duration) {}),
	)

	got, err := resolver.Resolve(context.Background(), []string{"https://refs.example/a.png"}, []string{"a scene"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("assignment = %v, want %v", got, want)
	}
}

func TestResolveFallsBackOnFatalSourceError(t *testing.T) {
	source := &scriptedSource{responses: []sourceResponse{
		{err: services.Wrap(services.ErrAuth, "refs", "query", "token expired", nil)},
	}}
	resolver := NewResolver(source,
		WithWaitBudget(10*time.Second),
		WithPollInterval(time.Second),
		WithSleeper(func(time.Duration) {}),
	)

	got, err := resolver.Resolve(context.Background(), []string{"https://refs.example/a.png"}, []string{"a scene"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("fatal error should stop polling, got %d checks", source.calls)
	}
	if len(got[0]) != 1 {
		t.Fatalf("heuristic fallback missing: %v", got)
	}
}

func TestResolveWithoutSourceSkipsWait(t *testing.T) {
	resolver := NewResolver(nil, WithSleeper(func(time.Duration) {
		t.Fatal("resolver slept with no source")
	}))

	got, err := resolver.Resolve(context.Background(), []string{"https://refs.example/a.png"}, []string{"a scene"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(got[0]) != 1 {
		t.Fatalf("heuristic missing: %v", got)
	}
}

func TestResolveStopsWhenContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	source := &scriptedSource{responses: []sourceResponse{{settled: false}}}
	resolver := NewResolver(source, WithSleeper(func(time.Duration) {}))

	if _, err := resolver.Resolve(ctx, []string{"https://refs.example/a.png"}, []string{"a scene"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	resolver := NewResolver(&scriptedSource{responses: []sourceResponse{{settled: false}}})
	got, err := resolver.Resolve(context.Background(), nil, []string{"a scene"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty assignment, got %v", got)
	}
}

func TestHeuristicBucketsBySetting(t *testing.T) {
	refs := []string{
		"https://refs.example/cabin-interior.png",
		"https://refs.example/exterior-pier.png",
		"https://refs.example/crew.png",
	}
	prompts := []string{
		"inside the cabin, lamplight",
		"waves against the pier outside",
	}

	got := Heuristic(refs, prompts)
	if !reflect.DeepEqual(got[0], []string{refs[0], refs[2]}) {
		t.Fatalf("scene 0 refs = %v", got[0])
	}
	if !reflect.DeepEqual(got[1], []string{refs[1]}) {
		t.Fatalf("scene 1 refs = %v", got[1])
	}
}

func TestHeuristicRoundRobinsWithinBucket(t *testing.T) {
	refs := []string{
		"https://refs.example/room-a.png",
		"https://refs.example/room-b.png",
		"https://refs.example/room-c.png",
	}
	prompts := []string{
		"a quiet room at dusk",
		"the kitchen before dawn",
		"city skyline from a rooftop",
	}

	got := Heuristic(refs, prompts)
	if !reflect.DeepEqual(got[0], []string{refs[0], refs[2]}) {
		t.Fatalf("scene 0 refs = %v", got[0])
	}
	if !reflect.DeepEqual(got[1], []string{refs[1]}) {
		t.Fatalf("scene 1 refs = %v", got[1])
	}
	if len(got[2]) != 0 {
		t.Fatalf("exterior scene should get no interior refs, got %v", got[2])
	}
}

func TestHeuristicUnmatchedBucketFallsBackToAllScenes(t *testing.T) {
	refs := []string{"https://refs.example/forest-exterior.png"}
	prompts := []string{"inside a library", "a reading room"}

	got := Heuristic(refs, prompts)
	total := len(got[0]) + len(got[1])
	if total != 1 {
		t.Fatalf("ref lost or duplicated: %v", got)
	}
}

func TestHeuristicDeterministic(t *testing.T) {
	refs := []string{
		"https://refs.example/a.png",
		"https://refs.example/b.png",
		"https://refs.example/c.png",
	}
	prompts := []string{"one", "two"}

	first := Heuristic(refs, prompts)
	for i := 0; i < 10; i++ {
		if got := Heuristic(refs, prompts); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d diverged: %v vs %v", i, got, first)
		}
	}
}
