package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		input string
		want  int
	}{
		{"empty", "", 0},
		{"single ascii", "a", 1},
		{"four ascii", "abcd", 1},
		{"eight ascii", "abcdefgh", 2},
		{"long ascii", strings.Repeat("x", 400), 100},
		{"cjk heavier per rune", strings.Repeat("あ", 3), 2}, // 3/1.5 = 2
		{"mixed ascii and cjk", "ab" + strings.Repeat("あ", 3), 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Estimate(tc.input)
			if got != tc.want {
				t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
			}
		})
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	got := EstimateMessages(msgs)
	if got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_TrimHistory_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	history := []*schema.Message{
		schema.UserMessage("hi"),
		schema.UserMessage("there"),
	}
	got := TrimHistory(fixed, history, DefaultMaxContextTokens)
	if len(got) != 2 {
		t.Errorf("want 2 history messages, got %d", len(got))
	}
}

func Test_TrimHistory_DropsOldest(t *testing.T) {
	t.Parallel()
	history := []*schema.Message{
		schema.UserMessage("oldest"),
		schema.UserMessage("newest"),
	}
	fixed := []*schema.Message{}
	got := TrimHistory(fixed, history, 7)
	if len(got) != 1 {
		t.Errorf("want 1 history message after trim, got %d", len(got))
	}
	if got[0].Content != "newest" {
		t.Errorf("want newest message retained, got %q", got[0].Content)
	}
}

func Test_TrimHistory_EmptyHistory(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	got := TrimHistory(fixed, nil, DefaultMaxContextTokens)
	if len(got) != 0 {
		t.Errorf("want empty, got %d", len(got))
	}
}

func Test_TrimHistory_AllDroppedWhenFixedExceedsBudget(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{
		schema.SystemMessage(strings.Repeat("x", 4*7000)),
	}
	history := []*schema.Message{
		schema.UserMessage("a"),
		schema.UserMessage("b"),
	}
	got := TrimHistory(fixed, history, 6000)
	if len(got) != 0 {
		t.Errorf("want 0 history messages, got %d", len(got))
	}
}

func Test_TruncateBytes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{"under budget unchanged", "short", 100, "short"},
		{"exact budget unchanged", "1234", 4, "1234"},
		{"over budget truncated with ellipsis", "abcdefgh", 5, "ab..."},
		{"does not split a multi-byte rune", strings.Repeat("あ", 5), 7, "あ..."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := TruncateBytes(tc.input, tc.n)
			if got != tc.want {
				t.Errorf("TruncateBytes(%q, %d) = %q, want %q", tc.input, tc.n, got, tc.want)
			}
			if len(got) > tc.n && tc.n > 0 && len(tc.input) > tc.n {
				t.Errorf("result %q exceeds budget %d", got, tc.n)
			}
		})
	}
}
