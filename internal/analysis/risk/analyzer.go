package risk

import (
	"sort"
	"strings"
)

// Band is the coarse risk classification attached to an answer.
type Band string

const (
	Low    Band = "low"
	Medium Band = "medium"
	High   Band = "high"
)

// Reason codes reported alongside a band.
const (
	ReasonPromptInjection    = "prompt_injection"
	ReasonHarmfulContent     = "harmful_content"
	ReasonPersonalData       = "personal_data"
	ReasonProfessionalAdvice = "professional_advice"
)

// Decision is the outcome of screening one question.
type Decision struct {
	Band       Band
	ReasonCode string
	Score      int
	// Blocked means no answer may be generated.
	Blocked bool
}

var keywordBuckets = map[string][]string{
	ReasonPromptInjection: {
		"ignore previous instructions", "ignore all previous", "disregard the above", "system prompt",
		"you are now", "jailbreak", "developer mode", "pretend you have no rules",
	},
	ReasonHarmfulContent: {
		"build a bomb", "make a bomb", "explosive", "weapon", "poison someone", "kill myself", "suicide",
		"self-harm", "hurt someone", "untraceable",
	},
	ReasonPersonalData: {
		"credit card", "card number", "password", "social security", "home address", "phone number of",
		"passport number", "bank account",
	},
	ReasonProfessionalAdvice: {
		"diagnose", "diagnosis", "prescription", "dosage", "legal advice", "lawsuit", "sue ",
		"invest in", "stock tip", "tax return",
	},
}

var reasonBands = map[string]Band{
	ReasonPromptInjection:    High,
	ReasonHarmfulContent:     High,
	ReasonPersonalData:       Medium,
	ReasonProfessionalAdvice: Medium,
}

// Analyze screens a user question with keyword heuristics.
func Analyze(question string) Decision {
	normalized := strings.TrimSpace(strings.ToLower(question))
	if normalized == "" {
		return Decision{Band: Low}
	}

	scores := make(map[string]int)
	for reason, keywords := range keywordBuckets {
		for _, word := range keywords {
			if strings.Contains(normalized, word) {
				scores[reason] += 3
			}
		}
	}

	if len(scores) == 0 {
		return Decision{Band: Low}
	}

	// the highest band wins, then the highest score, then the reason name
	reasons := make([]string, 0, len(scores))
	for reason := range scores {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool {
		a, b := reasons[i], reasons[j]
		if rank(reasonBands[a]) != rank(reasonBands[b]) {
			return rank(reasonBands[a]) > rank(reasonBands[b])
		}
		if scores[a] != scores[b] {
			return scores[a] > scores[b]
		}
		return a < b
	})

	best := reasons[0]
	band := reasonBands[best]
	return Decision{
		Band:       band,
		ReasonCode: best,
		Score:      scores[best],
		Blocked:    band == High,
	}
}

func rank(b Band) int {
	switch b {
	case High:
		return 2
	case Medium:
		return 1
	default:
		return 0
	}
}
