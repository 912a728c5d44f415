package memory

import (
	"testing"

	"github.com/loomforge/loom/internal/model"
)

func TestForeshadowingManager_Plant_AssignsMonotonicIDs(t *testing.T) {
	m := &ForeshadowingManager{ProjectPath: t.TempDir()}

	id1, err := m.Plant("The locket is never explained.", "chapter-1", "chapter-5", model.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("Plant: %v", err)
	}
	id2, err := m.Plant("A stranger watches from the ridge.", "chapter-1", "", model.PriorityLow, nil)
	if err != nil {
		t.Fatalf("Plant: %v", err)
	}
	if id1 != "fs001" || id2 != "fs002" {
		t.Fatalf("got ids %q, %q; want fs001, fs002", id1, id2)
	}

	entries := m.Load()
	if len(entries) != 2 {
		t.Fatalf("Load: got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Status != model.ForeshadowingUnresolved {
			t.Fatalf("newly planted entry %q has status %q, want unresolved", e.ID, e.Status)
		}
	}
}

func TestForeshadowingManager_Resolve_IsTerminal(t *testing.T) {
	m := &ForeshadowingManager{ProjectPath: t.TempDir()}
	id, err := m.Plant("The locket is never explained.", "chapter-1", "chapter-5", model.PriorityHigh, nil)
	if err != nil {
		t.Fatalf("Plant: %v", err)
	}

	if err := m.Resolve(id, "chapter-5", "the locket held her mother's ashes"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	entries := m.Load()
	if entries[0].Status != model.ForeshadowingResolved {
		t.Fatalf("status = %q, want resolved", entries[0].Status)
	}
	if entries[0].ResolutionChapter != "chapter-5" {
		t.Fatalf("resolution chapter = %q, want chapter-5", entries[0].ResolutionChapter)
	}

	// Resolved is terminal: a later Abandon must be a no-op.
	if err := m.Abandon(id, "chapter-6", "changed my mind"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	entries = m.Load()
	if entries[0].Status != model.ForeshadowingResolved {
		t.Fatalf("status after Abandon on resolved entry = %q, want unchanged resolved", entries[0].Status)
	}
	if entries[0].ResolutionChapter != "chapter-5" {
		t.Fatalf("resolution chapter mutated by no-op Abandon: %q", entries[0].ResolutionChapter)
	}
}

func TestForeshadowingManager_Abandon_IsTerminal(t *testing.T) {
	m := &ForeshadowingManager{ProjectPath: t.TempDir()}
	id, err := m.Plant("A stranger watches from the ridge.", "chapter-1", "", model.PriorityLow, nil)
	if err != nil {
		t.Fatalf("Plant: %v", err)
	}

	if err := m.Abandon(id, "chapter-3", "cut for pacing"); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if entries := m.Load(); entries[0].Status != model.ForeshadowingAbandoned {
		t.Fatalf("status = %q, want abandoned", entries[0].Status)
	}

	if err := m.Resolve(id, "chapter-4", "too late"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entries := m.Load(); entries[0].Status != model.ForeshadowingAbandoned {
		t.Fatalf("status after Resolve on abandoned entry = %q, want unchanged abandoned", entries[0].Status)
	}
}

func TestForeshadowingManager_Resolve_UnknownIDIsNoOp(t *testing.T) {
	m := &ForeshadowingManager{ProjectPath: t.TempDir()}
	if _, err := m.Plant("x", "chapter-1", "", model.PriorityMedium, nil); err != nil {
		t.Fatalf("Plant: %v", err)
	}
	if err := m.Resolve("fs999", "chapter-2", "note"); err != nil {
		t.Fatalf("Resolve unknown id returned error, want silent no-op: %v", err)
	}
	entries := m.Load()
	if entries[0].Status != model.ForeshadowingUnresolved {
		t.Fatalf("unrelated entry mutated by no-op Resolve: %+v", entries[0])
	}
}

func TestForeshadowingManager_GetUnresolved_SortsByPriority(t *testing.T) {
	m := &ForeshadowingManager{ProjectPath: t.TempDir()}
	if _, err := m.Plant("low", "c1", "", model.PriorityLow, nil); err != nil {
		t.Fatalf("Plant: %v", err)
	}
	if _, err := m.Plant("high", "c1", "", model.PriorityHigh, nil); err != nil {
		t.Fatalf("Plant: %v", err)
	}
	if _, err := m.Plant("medium", "c1", "", model.PriorityMedium, nil); err != nil {
		t.Fatalf("Plant: %v", err)
	}

	unresolved := m.GetUnresolved("")
	if len(unresolved) != 3 {
		t.Fatalf("got %d unresolved, want 3", len(unresolved))
	}
	if unresolved[0].Content != "high" || unresolved[1].Content != "medium" || unresolved[2].Content != "low" {
		t.Fatalf("not sorted high->medium->low: %+v", unresolved)
	}
}

func TestForeshadowingManager_SuggestResolutions(t *testing.T) {
	m := &ForeshadowingManager{ProjectPath: t.TempDir()}
	id, err := m.Plant("target match", "c1", "c5", model.PriorityLow, nil)
	if err != nil {
		t.Fatalf("Plant: %v", err)
	}
	if got := m.SuggestResolutions("c5"); len(got) != 1 || got[0].ID != id {
		t.Fatalf("SuggestResolutions(c5) = %+v, want match on target_resolution", got)
	}

	if got := m.SuggestResolutions("unrelated-chapter"); len(got) != 0 {
		t.Fatalf("SuggestResolutions(unrelated-chapter) = %+v, want none (no target match, not yet overdue)", got)
	}
}
