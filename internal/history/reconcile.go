package history

import (
	"log/slog"
	"strings"

	"github.com/phantomtech/mirage/internal/artifact"
)

// Entry is one display-ready transcript row: a user or assistant turn
// with the images that belong to it. Every image in the store appears
// in exactly one entry.
type Entry struct {
	Role   string           `json:"role"`
	Text   string           `json:"text"`
	Images []artifact.Image `json:"images,omitempty"`
}

// Reconciler rebuilds the display transcript from the raw turn log and
// the conversation's stored images. Attribution runs through an ordered
// matcher chain; the exact-reference matcher always goes first, and the
// ordered fallback guarantees nothing is dropped.
//
// Reconciliation is idempotent and never fails: malformed content
// renders as its stringified raw value, ambiguous attribution falls
// through to the deterministic fallback, and a partial transcript is
// always preferred over none.
type Reconciler struct {
	logger *slog.Logger
	chain  []Matcher
}

// NewReconciler creates a reconciler with the standard matcher chain.
func NewReconciler(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		logger: logger,
		chain: []Matcher{
			referenceMatcher{},
			similarityMatcher{},
			orderedFallbackMatcher{},
		},
	}
}

// Reconcile converts a turn log plus the conversation's images into
// display entries. Inputs are not mutated.
func (r *Reconciler) Reconcile(turns []Turn, images []artifact.Image) []Entry {
	st := r.normalize(turns, images)

	for _, m := range r.chain {
		before := len(st.unmatched)
		m.Match(st)
		if resolved := before - len(st.unmatched); resolved > 0 {
			r.logger.Debug("images attributed",
				"strategy", m.Name(),
				"resolved", resolved,
				"remaining", len(st.unmatched),
			)
		}
		if len(st.unmatched) == 0 {
			break
		}
	}

	r.enforceNoLoss(st, images)

	return r.finalize(st)
}

// normalize builds the display entry skeleton: system turns and raw
// tool invocations are dropped, tool results are suppressed but mined
// for reference tokens, and multipart content is flattened.
func (r *Reconciler) normalize(turns []Turn, images []artifact.Image) *matchState {
	st := &matchState{
		byID:      make(map[int64]artifact.Image, len(images)),
		unmatched: make([]artifact.Image, len(images)),
		assigned:  make(map[int]int),
	}
	copy(st.unmatched, images)
	for _, img := range images {
		st.byID[img.ID] = img
	}

	// Reference tokens found in suppressed tool results wait here until
	// the next assistant entry is about to be finalized.
	var pendingIDs []int64

	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			continue

		case RoleTool:
			ids, _ := ExtractImageRefs(t.FlattenText())
			pendingIDs = append(pendingIDs, ids...)

		case RoleUser:
			st.entries = append(st.entries, &Entry{Role: RoleUser, Text: t.FlattenText()})

		case RoleAssistant:
			text := t.FlattenText()
			if len(t.ToolCalls) > 0 && strings.TrimSpace(text) == "" {
				// Raw invocation record; the result turn follows.
				continue
			}

			ids, stripped := ExtractImageRefs(text)
			idx := len(st.entries)
			st.entries = append(st.entries, &Entry{Role: RoleAssistant, Text: stripped})

			for _, id := range pendingIDs {
				st.refs = append(st.refs, pendingRef{imageID: id, entryIndex: idx})
			}
			for _, id := range ids {
				st.refs = append(st.refs, pendingRef{imageID: id, entryIndex: idx})
			}
			pendingIDs = nil

		default:
			r.logger.Warn("unknown turn role skipped", "role", t.Role)
		}
	}

	// A tool result with no assistant turn after it (runtime cut off
	// mid-exchange) still needs a home for its references.
	if len(pendingIDs) > 0 {
		idx := len(st.entries)
		st.entries = append(st.entries, &Entry{Role: RoleAssistant})
		for _, id := range pendingIDs {
			st.refs = append(st.refs, pendingRef{imageID: id, entryIndex: idx})
		}
	}

	return st
}

// enforceNoLoss is the belt-and-braces invariant check: after the full
// chain every image must be attached exactly once. The fallback matcher
// should have left nothing behind; anything that slipped through goes
// to a synthetic trailing entry rather than being dropped.
func (r *Reconciler) enforceNoLoss(st *matchState, images []artifact.Image) {
	if len(st.unmatched) == 0 {
		return
	}

	r.logger.Warn("images survived the matcher chain unattached",
		"count", len(st.unmatched))

	st.entries = append(st.entries, &Entry{Role: RoleAssistant})
	idx := len(st.entries) - 1
	for len(st.unmatched) > 0 {
		st.attach(idx, st.unmatched[0])
	}
}

// finalize prunes assistant entries that have neither text nor images
// and substitutes the neutral confirmation phrase where a stripped
// reference token left an image-carrying entry textless.
func (r *Reconciler) finalize(st *matchState) []Entry {
	out := make([]Entry, 0, len(st.entries))
	for _, e := range st.entries {
		e.Text = strings.TrimSpace(e.Text)

		if e.Role == RoleAssistant && e.Text == "" {
			if len(e.Images) == 0 {
				continue
			}
			e.Text = ConfirmationPhrase
		}

		out = append(out, *e)
	}
	return out
}
