// Package classify turns binding scores into Active/Inactive labels.
package classify

type Label string

const (
	Active   Label = "ACTIVE"
	Inactive Label = "INACTIVE"
)

// Display accents keyed by label.
const (
	AccentActive   = "#00f3ff"
	AccentInactive = "#ff0055"
)

type Classification struct {
	Label  Label  `json:"status"`
	Accent string `json:"color"`
}

// Classify labels score Active iff score >= threshold.
func Classify(score, threshold float64) Classification {
	if score >= threshold {
		return Classification{Label: Active, Accent: AccentActive}
	}
	return Classification{Label: Inactive, Accent: AccentInactive}
}

// AccentFor returns the fixed accent for label.
func AccentFor(label Label) string {
	if label == Active {
		return AccentActive
	}
	return AccentInactive
}
