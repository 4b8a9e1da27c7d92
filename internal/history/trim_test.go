package history

import (
	"fmt"
	"testing"
)

func TestTrim_KeepsInstructionPlusRecent(t *testing.T) {
	instruction := Turn{Role: RoleSystem, Text: "你是智能员工助手"}

	// Turn 0 is the instruction, followed by turns 1..60.
	turns := []Turn{instruction}
	for i := 1; i <= 60; i++ {
		turns = append(turns, Turn{Role: RoleUser, Text: fmt.Sprintf("turn-%d", i)})
	}

	got := Trim(turns, instruction, 50)

	if len(got) != 51 {
		t.Fatalf("trimmed length = %d, want 51", len(got))
	}
	if got[0].Role != RoleSystem {
		t.Errorf("first turn role = %q, want system", got[0].Role)
	}
	if got[1].Text != "turn-11" {
		t.Errorf("second turn = %q, want turn-11", got[1].Text)
	}
	if got[50].Text != "turn-60" {
		t.Errorf("last turn = %q, want turn-60", got[50].Text)
	}
}

func TestTrim_PrependsMissingInstruction(t *testing.T) {
	instruction := Turn{Role: RoleSystem, Text: "instruction"}
	turns := []Turn{
		{Role: RoleUser, Text: "hello"},
		{Role: RoleAssistant, Text: "hi"},
	}

	got := Trim(turns, instruction, 50)

	if len(got) != 3 {
		t.Fatalf("length = %d, want 3", len(got))
	}
	if got[0].Role != RoleSystem || got[0].Text != "instruction" {
		t.Errorf("instruction not prepended: %+v", got[0])
	}
}

func TestTrim_NoTrimUnderBudget(t *testing.T) {
	instruction := Turn{Role: RoleSystem, Text: "instruction"}
	turns := []Turn{instruction, {Role: RoleUser, Text: "hi"}}

	got := Trim(turns, instruction, 50)
	if len(got) != 2 {
		t.Errorf("length = %d, want 2", len(got))
	}
}

func TestTrim_EmptyLog(t *testing.T) {
	instruction := Turn{Role: RoleSystem, Text: "instruction"}

	got := Trim(nil, instruction, 50)
	if len(got) != 1 || got[0].Role != RoleSystem {
		t.Errorf("got %+v, want just the instruction", got)
	}
}

func TestTrim_DoesNotMutateInput(t *testing.T) {
	instruction := Turn{Role: RoleSystem, Text: "instruction"}
	turns := make([]Turn, 0, 60)
	for i := 0; i < 55; i++ {
		turns = append(turns, Turn{Role: RoleUser, Text: fmt.Sprintf("turn-%d", i)})
	}
	// Extra capacity makes accidental in-place appends visible.
	before := fmt.Sprintf("%v", turns)

	Trim(turns, instruction, 10)

	if after := fmt.Sprintf("%v", turns); after != before {
		t.Error("Trim mutated its input")
	}
}

func TestTrim_ZeroBudgetUsesDefault(t *testing.T) {
	instruction := Turn{Role: RoleSystem, Text: "instruction"}
	turns := []Turn{instruction}
	for i := 0; i < 80; i++ {
		turns = append(turns, Turn{Role: RoleUser, Text: "x"})
	}

	got := Trim(turns, instruction, 0)
	if len(got) != DefaultMaxTurns+1 {
		t.Errorf("length = %d, want %d", len(got), DefaultMaxTurns+1)
	}
}
