package tasks

import (
	"context"
	"testing"
	"time"
)

func TestHistoryNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := env.mustCreate(t, actorAlice, CreateTaskInput{Title: "t", Description: "d"})
	env.advance(time.Minute)
	bob := uint(2)
	if _, err := env.service.Assign(ctx, actorAlice, view.ID, 1, &bob); err != nil {
		t.Fatalf("unexpected assign error: %v", err)
	}
	env.advance(time.Minute)
	if _, err := env.service.ChangeStatus(ctx, actorAlice, view.ID, 2, "IN_PROGRESS"); err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}

	history, err := env.service.History(ctx, view.ID)
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(history))
	}
	expected := []ActionType{ActionStatusChange, ActionAssignUser, ActionCreateTask}
	for i, action := range expected {
		if history[i].ActionType != action {
			t.Fatalf("expected %s at position %d, got %s", action, i, history[i].ActionType)
		}
	}
}

func TestHistoryResolvesAssigneeNames(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := env.mustCreate(t, actorAlice, CreateTaskInput{Title: "t", Description: "d"})
	bob := uint(2)
	if _, err := env.service.Assign(ctx, actorAlice, view.ID, 1, &bob); err != nil {
		t.Fatalf("unexpected assign error: %v", err)
	}

	history, err := env.service.History(ctx, view.ID)
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	assignEntry := history[0]
	if *assignEntry.OldValue != "Unassigned" {
		t.Fatalf("expected Unassigned for nil old value, got %q", *assignEntry.OldValue)
	}
	if *assignEntry.NewValue != "Bob Diaz" {
		t.Fatalf("expected resolved name, got %q", *assignEntry.NewValue)
	}

	// A vanished user falls back to a stable placeholder.
	delete(env.directory, 2)
	history, err = env.service.History(ctx, view.ID)
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	if *history[0].NewValue != "User #2" {
		t.Fatalf("expected placeholder for missing user, got %q", *history[0].NewValue)
	}
}

func TestHistoryHumanizesStatusTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := env.mustCreate(t, actorAlice, CreateTaskInput{Title: "t", Description: "d"})
	bob := uint(2)
	if _, err := env.service.Assign(ctx, actorAlice, view.ID, 1, &bob); err != nil {
		t.Fatalf("unexpected assign error: %v", err)
	}
	if _, err := env.service.ChangeStatus(ctx, actorAlice, view.ID, 2, "IN_PROGRESS"); err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}

	history, err := env.service.History(ctx, view.ID)
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	statusEntry := history[0]
	if *statusEntry.OldValue != "Open" {
		t.Fatalf("expected humanized old status, got %q", *statusEntry.OldValue)
	}
	if *statusEntry.NewValue != "In Progress" {
		t.Fatalf("expected humanized new status, got %q", *statusEntry.NewValue)
	}
}

func TestHistorySurvivesTaskDeletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view := env.mustCreate(t, actorAlice, CreateTaskInput{Title: "t", Description: "d"})
	if err := env.service.Delete(ctx, actorAlice, view.ID, 1); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	history, err := env.service.History(ctx, view.ID)
	if err != nil {
		t.Fatalf("unexpected history error: %v", err)
	}
	if len(history) != 2 || history[0].ActionType != ActionDeleteTask {
		t.Fatalf("expected terminal entry first, got %+v", history)
	}
}

func TestHumanStatus(t *testing.T) {
	cases := map[string]string{
		"OPEN":        "Open",
		"IN_PROGRESS": "In Progress",
		"DONE":        "Done",
		"in_progress": "In Progress",
	}
	for input, expected := range cases {
		if got := humanStatus(input); got != expected {
			t.Fatalf("humanStatus(%q) = %q, expected %q", input, got, expected)
		}
	}
}
