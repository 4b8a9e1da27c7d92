package history

import (
	"strconv"
	"strings"

	"github.com/phantomtech/mirage/internal/artifact"
)

// Attribution tuning. The threshold and penalty were settled by trial
// against real conversations: 0.3 accepts partial prompt echoes without
// letting unrelated turns win, and the per-image penalty keeps one
// chatty turn from collecting every leftover.
const (
	matchThreshold      = 0.3
	genericKeywordScore = 0.4
	clusterPenalty      = 0.1
)

// ConfirmationPhrase replaces a stripped image reference token when the
// surrounding text would otherwise be empty.
const ConfirmationPhrase = "图片已生成。"

// Reference token delimiters. The generation tool embeds
// "[[image:<id>]]" in its result text; the token is parsed with a plain
// fixed-pattern scan and stripped before display.
const (
	refOpen  = "[[image:"
	refClose = "]]"
)

// successIndicators mark an assistant turn as having genuinely
// completed an image generation, making it eligible for fallback
// attribution.
var successIndicators = []string{"✅", "成功生成", "已成功", "已生成"}

// imageKeywords are generic image-related words. Weaker evidence than a
// success indicator, but enough to gate fallback attribution and to
// score prompt-less artifacts during similarity matching.
var imageKeywords = []string{"图片", "插图", "配图", "image", "illustration", "画"}

// pendingRef is an exact reference token resolved during
// normalization: image imageID belongs to display entry entryIndex.
type pendingRef struct {
	imageID    int64
	entryIndex int
}

// matchState is the shared working set a matcher chain operates on.
// Each matcher attaches what it can resolve and removes those images
// from unmatched; later matchers only see what remains.
type matchState struct {
	entries   []*Entry
	refs      []pendingRef
	unmatched []artifact.Image
	byID      map[int64]artifact.Image
	assigned  map[int]int // entry index → images already attached
}

func (st *matchState) attach(entryIndex int, img artifact.Image) {
	st.entries[entryIndex].Images = append(st.entries[entryIndex].Images, img)
	st.assigned[entryIndex]++

	for i, u := range st.unmatched {
		if u.ID == img.ID {
			st.unmatched = append(st.unmatched[:i], st.unmatched[i+1:]...)
			break
		}
	}
}

// Matcher attempts to resolve unmatched images against candidate
// entries. Matchers run in strict priority order; the exact-reference
// matcher is always first.
type Matcher interface {
	Name() string
	Match(st *matchState)
}

// referenceMatcher resolves exact [[image:id]] tokens collected during
// normalization. This strategy is exact and always wins over the
// heuristics below.
type referenceMatcher struct{}

func (referenceMatcher) Name() string { return "exact-reference" }

func (referenceMatcher) Match(st *matchState) {
	for _, ref := range st.refs {
		img, ok := st.byID[ref.imageID]
		if !ok {
			continue // token names an image this conversation does not have
		}
		if !containsID(st.unmatched, ref.imageID) {
			continue // already resolved by an earlier token
		}
		if ref.entryIndex < 0 || ref.entryIndex >= len(st.entries) {
			continue
		}
		st.attach(ref.entryIndex, img)
	}
}

// similarityMatcher scores each unmatched image's stored prompt against
// preceding user turns by fractional word overlap, then attaches the
// image to the first assistant turn after the best-scoring user turn.
// Images that clear no candidate above the threshold stay unmatched for
// the ordered fallback.
type similarityMatcher struct{}

func (similarityMatcher) Name() string { return "prompt-similarity" }

// simCandidate pairs a user entry's text with the assistant entry that
// would receive the image.
type simCandidate struct {
	userText string
	target   int
}

func (similarityMatcher) Match(st *matchState) {
	candidates := collectCandidates(st.entries)
	if len(candidates) == 0 {
		return
	}

	// Iterate a snapshot: attach mutates st.unmatched.
	remaining := make([]artifact.Image, len(st.unmatched))
	copy(remaining, st.unmatched)

	for _, img := range remaining {
		best := -1
		bestScore := 0.0

		for i, cand := range candidates {
			score := overlapScore(img.Prompt, cand.userText)
			score -= clusterPenalty * float64(st.assigned[cand.target])
			// Strictly-greater keeps the earliest candidate on ties.
			if score > matchThreshold && score > bestScore {
				best = i
				bestScore = score
			}
		}

		if best >= 0 {
			st.attach(candidates[best].target, img)
		}
	}
}

// collectCandidates pairs every user entry with the first assistant
// entry that follows it.
func collectCandidates(entries []*Entry) []simCandidate {
	var out []simCandidate
	for i, e := range entries {
		if e.Role != RoleUser {
			continue
		}
		for j := i + 1; j < len(entries); j++ {
			if entries[j].Role == RoleAssistant {
				out = append(out, simCandidate{userText: e.Text, target: j})
				break
			}
		}
	}
	return out
}

// overlapScore is the fraction of qualifying prompt words (byte length
// > 1, which admits single CJK characters but not single letters) found
// as substrings of the candidate user text. A prompt with no qualifying
// words falls back to a small fixed score when the user text mentions
// images at all.
func overlapScore(prompt, userText string) float64 {
	words := strings.Fields(prompt)

	var qualifying, hits int
	lowerText := strings.ToLower(userText)
	for _, w := range words {
		if len(w) <= 1 {
			continue
		}
		qualifying++
		if strings.Contains(lowerText, strings.ToLower(w)) {
			hits++
		}
	}

	if qualifying == 0 {
		if containsAny(userText, imageKeywords) {
			return genericKeywordScore
		}
		return 0
	}

	return float64(hits) / float64(qualifying)
}

// orderedFallbackMatcher assigns the remaining images in creation order
// to assistant entries in order, but only to entries whose text shows a
// success indicator or at least a generic image keyword. A turn that
// merely mentions images without having produced one never receives a
// leftover. Whatever is still unmatched afterwards goes to the last
// eligible assistant entry, or to a synthetic trailing entry so no
// image is silently lost.
type orderedFallbackMatcher struct{}

func (orderedFallbackMatcher) Name() string { return "ordered-fallback" }

func (orderedFallbackMatcher) Match(st *matchState) {
	if len(st.unmatched) == 0 {
		return
	}

	var eligible []int
	for i, e := range st.entries {
		if e.Role != RoleAssistant {
			continue
		}
		if containsAny(e.Text, successIndicators) || containsAny(e.Text, imageKeywords) {
			eligible = append(eligible, i)
		}
	}

	// One image per eligible entry, both sides in order.
	next := 0
	for len(st.unmatched) > 0 && next < len(eligible) {
		st.attach(eligible[next], st.unmatched[0])
		next++
	}

	if len(st.unmatched) == 0 {
		return
	}

	// Leftovers: last eligible entry, scanning backward.
	if len(eligible) > 0 {
		last := eligible[len(eligible)-1]
		for len(st.unmatched) > 0 {
			st.attach(last, st.unmatched[0])
		}
		return
	}

	// No eligible entry anywhere: synthetic holder.
	st.entries = append(st.entries, &Entry{Role: RoleAssistant})
	idx := len(st.entries) - 1
	for len(st.unmatched) > 0 {
		st.attach(idx, st.unmatched[0])
	}
}

// ExtractImageRefs scans text for [[image:<id>]] tokens, returning the
// referenced ids in order and the text with the tokens removed. Tokens
// with a non-numeric payload are left in place.
func ExtractImageRefs(text string) ([]int64, string) {
	var ids []int64
	var b strings.Builder

	rest := text
	for {
		start := strings.Index(rest, refOpen)
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], refClose)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		end += start

		payload := rest[start+len(refOpen) : end]
		id, err := strconv.ParseInt(strings.TrimSpace(payload), 10, 64)
		if err != nil {
			// Not a reference token; keep the literal text.
			b.WriteString(rest[:end+len(refClose)])
			rest = rest[end+len(refClose):]
			continue
		}

		ids = append(ids, id)
		b.WriteString(rest[:start])
		rest = rest[end+len(refClose):]
	}

	return ids, b.String()
}

func containsAny(text string, needles []string) bool {
	lower := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

func containsID(images []artifact.Image, id int64) bool {
	for _, img := range images {
		if img.ID == id {
			return true
		}
	}
	return false
}
