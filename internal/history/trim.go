package history

// DefaultMaxTurns is the number of recent turns kept in a model request
// when the config does not say otherwise.
const DefaultMaxTurns = 50

// Trim bounds the turn sequence sent to the model to the most recent
// max turns while always preserving one leading system instruction.
//
// If the first turn is not the instruction, it is prepended. When the
// result would exceed max+1 turns, only the instruction plus the last
// max turns survive. Older turns stay in the persisted log — trimming
// affects the outgoing request only.
//
// Trim is a pure function: it never mutates its input and has no side
// effects.
func Trim(turns []Turn, instruction Turn, max int) []Turn {
	if max <= 0 {
		max = DefaultMaxTurns
	}

	var out []Turn
	if len(turns) == 0 || turns[0].Role != RoleSystem {
		out = make([]Turn, 0, len(turns)+1)
		out = append(out, instruction)
		out = append(out, turns...)
	} else {
		out = make([]Turn, len(turns))
		copy(out, turns)
	}

	if len(out) <= max+1 {
		return out
	}

	trimmed := make([]Turn, 0, max+1)
	trimmed = append(trimmed, out[0])
	trimmed = append(trimmed, out[len(out)-max:]...)
	return trimmed
}
