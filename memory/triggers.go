package memory

import (
	"strings"

	"github.com/mnemora/mnemora/types"
)

// TriggerKind names the predicate that gates whether raw input is recorded
// into working memory at all.
type TriggerKind string

const (
	// TriggerManual always passes.
	TriggerManual TriggerKind = "manual"

	// TriggerError passes when the content looks error-like.
	TriggerError TriggerKind = "error"

	// TriggerDecision passes when flagged or when the content carries
	// decision language.
	TriggerDecision TriggerKind = "decision"

	// TriggerStateChange passes only when explicitly flagged in metadata.
	TriggerStateChange TriggerKind = "state_change"

	// TriggerMilestone passes only when explicitly flagged in metadata.
	TriggerMilestone TriggerKind = "milestone"

	// TriggerPattern passes only when explicitly flagged in metadata.
	TriggerPattern TriggerKind = "pattern"
)

type triggerPredicate func(content string, metadata types.Metadata) bool

var triggerPredicates = map[TriggerKind]triggerPredicate{
	TriggerManual: func(string, types.Metadata) bool { return true },
	TriggerError: func(content string, md types.Metadata) bool {
		return md.Flag("error") || containsAny(strings.ToLower(content), errorKeywords)
	},
	TriggerDecision: func(content string, md types.Metadata) bool {
		return md.Flag("decision") || containsAny(strings.ToLower(content), decisionKeywords)
	},
	TriggerStateChange: func(_ string, md types.Metadata) bool {
		return md.Flag("state_change")
	},
	TriggerMilestone: func(_ string, md types.Metadata) bool {
		return md.Flag("milestone")
	},
	TriggerPattern: func(_ string, md types.Metadata) bool {
		return md.Flag("pattern")
	},
}

// TriggerFires reports whether the named trigger admits the content.
// Unknown trigger kinds never fire.
func TriggerFires(kind TriggerKind, content string, metadata types.Metadata) bool {
	pred, ok := triggerPredicates[kind]
	if !ok {
		return false
	}
	return pred(content, metadata)
}
