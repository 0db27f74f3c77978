package pattern

// PromptType is the closed set of interactive prompt kinds the detector can
// classify. Adding a new type means updating every switch over PromptType.
type PromptType string

const (
	TypeYesNo          PromptType = "yes_no"
	TypeNumberedChoice PromptType = "numbered_choice"
	TypeBinaryChoice   PromptType = "binary_choice"
	TypeTrustConfirm   PromptType = "trust_confirm"
)

// Valid reports whether t is one of the known prompt types.
func (t PromptType) Valid() bool {
	switch t {
	case TypeYesNo, TypeNumberedChoice, TypeBinaryChoice, TypeTrustConfirm:
		return true
	}
	return false
}

// Priority orders prompt types for tie-breaking when two types match with
// equal confidence. Trust prompts are highest-stakes and must never be
// silently deprioritized.
func (t PromptType) Priority() int {
	switch t {
	case TypeTrustConfirm:
		return 4
	case TypeYesNo:
		return 3
	case TypeBinaryChoice:
		return 2
	case TypeNumberedChoice:
		return 1
	}
	return 0
}
