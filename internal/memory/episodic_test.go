package memory

import (
	"strings"
	"testing"
)

func TestEpisodicMemoryManager_AddSceneSummary_TrimsToMaxBlocks(t *testing.T) {
	m := &EpisodicMemoryManager{ProjectPath: t.TempDir(), MaxBlocks: 2}

	for i := 1; i <= 4; i++ {
		if err := m.AddSceneSummary(1, i, "scene summary content"); err != nil {
			t.Fatalf("AddSceneSummary: %v", err)
		}
	}

	blocks, _ := m.splitBlocks(m.Load())
	if len(blocks) != 2 {
		t.Fatalf("got %d blocks, want 2 (trimmed)", len(blocks))
	}
	if !strings.Contains(blocks[0], "Scene 4") {
		t.Fatalf("newest block not first: %q", blocks[0])
	}
	if !strings.Contains(blocks[1], "Scene 3") {
		t.Fatalf("second newest block not second: %q", blocks[1])
	}
}

func TestEpisodicMemoryManager_GetRecentSummary_StripsHeaders(t *testing.T) {
	m := &EpisodicMemoryManager{ProjectPath: t.TempDir()}
	if err := m.AddSceneSummary(1, 1, "Kira enters the ruined tower."); err != nil {
		t.Fatalf("AddSceneSummary: %v", err)
	}

	out := m.GetRecentSummary(1)
	if strings.Contains(out, "### Chapter") {
		t.Fatalf("GetRecentSummary leaked a scene header: %q", out)
	}
	if !strings.Contains(out, "Kira enters the ruined tower.") {
		t.Fatalf("GetRecentSummary missing summary text: %q", out)
	}
}

func TestEpisodicMemoryManager_UpdateCharacterStatus_UpsertsByName(t *testing.T) {
	m := &EpisodicMemoryManager{ProjectPath: t.TempDir()}
	if err := m.AddSceneSummary(1, 1, "opening scene"); err != nil {
		t.Fatalf("AddSceneSummary: %v", err)
	}

	if err := m.UpdateCharacterStatus("Kira", "injured, left arm"); err != nil {
		t.Fatalf("UpdateCharacterStatus: %v", err)
	}
	if err := m.UpdateCharacterStatus("Kira", "recovered"); err != nil {
		t.Fatalf("UpdateCharacterStatus: %v", err)
	}
	if err := m.UpdateCharacterStatus("Dain", "missing"); err != nil {
		t.Fatalf("UpdateCharacterStatus: %v", err)
	}

	_, statusSection := m.splitBlocks(m.Load())
	rows := parseStatusTable(statusSection)
	if len(rows) != 2 {
		t.Fatalf("got %d status rows, want 2 (one per character, upserted not appended)", len(rows))
	}
	for _, r := range rows {
		if r[0] == "Kira" && r[1] != "recovered" {
			t.Fatalf("Kira's status was not updated in place: %+v", r)
		}
	}

	// Scene blocks must survive a status-only update.
	blocks, _ := m.splitBlocks(m.Load())
	if len(blocks) != 1 {
		t.Fatalf("status update corrupted scene blocks: got %d, want 1", len(blocks))
	}
}

func TestSimpleSummarizer_PicksFirstMiddleLast(t *testing.T) {
	var s SimpleSummarizer
	text := "一つ目の文です。二つ目の文です。三つ目の文です。四つ目の文です。五つ目の文です。"
	out := s.Summarize(text)
	if !strings.Contains(out, "一つ目の文です") {
		t.Fatalf("summary missing first sentence: %q", out)
	}
	if !strings.Contains(out, "五つ目の文です") {
		t.Fatalf("summary missing last sentence: %q", out)
	}
}

func TestSimpleSummarizer_ShortTextReturnsAsIs(t *testing.T) {
	var s SimpleSummarizer
	out := s.Summarize("一つの文だけです。")
	if !strings.Contains(out, "一つの文だけです") {
		t.Fatalf("short text summary dropped its only sentence: %q", out)
	}
}
