package engine

import (
	"context"
	"testing"
)

func TestDeclareTraitsOverridesStage(t *testing.T) {
	base := trailStage("base")
	wrapped := DeclareTraits(base, ResponseTraits{MayReturnNil: true})

	traits := resolveTraits(wrapped)
	if !traits.MayReturnNil || traits.ReplyType {
		t.Fatalf("unexpected traits: %+v", traits)
	}
	if got := stageName(wrapped); got != "base" {
		t.Fatalf("expected the wrapped stage to keep its name, got %s", got)
	}

	result, err := wrapped.Process(context.Background(), NewEvent(nil))
	if err != nil || trail(result) != "base" {
		t.Fatalf("expected delegation to the wrapped stage, got %v, %v", result, err)
	}
}

func TestStageNameFallsBackToType(t *testing.T) {
	fn := StageFunc(func(_ context.Context, event *Event) (*Event, error) { return event, nil })
	if got := stageName(fn); got != "engine.StageFunc" {
		t.Fatalf("unexpected fallback name: %s", got)
	}

	unnamed := &namedStage{process: func(_ context.Context, event *Event) (*Event, error) { return event, nil }}
	if got := stageName(unnamed); got != "*engine.namedStage" {
		t.Fatalf("expected type name when Name is empty, got %s", got)
	}
}

func TestHostingString(t *testing.T) {
	if HostingLinear.String() != "linear" || HostingBranching.String() != "branching" {
		t.Fatal("unexpected hosting labels")
	}
	if got := Hosting(9).String(); got != "hosting(9)" {
		t.Fatalf("unexpected label for unknown hosting: %s", got)
	}
}
