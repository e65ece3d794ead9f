package models

import (
	"fmt"
	"strings"
)

// Likelihood is the ordered confidence scale a classifier reports per category.
type Likelihood int

const (
	LikelihoodUnknown Likelihood = iota
	LikelihoodVeryUnlikely
	LikelihoodUnlikely
	LikelihoodPossible
	LikelihoodLikely
	LikelihoodVeryLikely
)

var likelihoodNames = [...]string{
	LikelihoodUnknown:      "UNKNOWN",
	LikelihoodVeryUnlikely: "VERY_UNLIKELY",
	LikelihoodUnlikely:     "UNLIKELY",
	LikelihoodPossible:     "POSSIBLE",
	LikelihoodLikely:       "LIKELY",
	LikelihoodVeryLikely:   "VERY_LIKELY",
}

func (l Likelihood) String() string {
	if l < LikelihoodUnknown || l > LikelihoodVeryLikely {
		return fmt.Sprintf("Likelihood(%d)", int(l))
	}
	return likelihoodNames[l]
}

// ParseLikelihood accepts the upper-case names, case-insensitively.
func ParseLikelihood(raw string) (Likelihood, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	for i, name := range likelihoodNames {
		if name == normalized {
			return Likelihood(i), nil
		}
	}
	return LikelihoodUnknown, fmt.Errorf("unknown likelihood %q", raw)
}

// Category names a classifier dimension such as adult or violence.
type Category string

const (
	CategoryAdult    Category = "adult"
	CategoryViolence Category = "violence"
	CategoryRacy     Category = "racy"
	CategoryMedical  Category = "medical"
	CategorySpoof    Category = "spoof"
)

// ClassificationResult maps each category the classifier reported to its likelihood.
// Categories absent from the map are treated as UNKNOWN.
type ClassificationResult map[Category]Likelihood

// ModerationVerdict is the accept/reject decision for one upload.
// TriggeredCategory is empty and TriggeredLikelihood is UNKNOWN when Accepted is true.
type ModerationVerdict struct {
	Accepted            bool       `json:"accepted"`
	TriggeredCategory   Category   `json:"triggeredCategory,omitempty"`
	TriggeredLikelihood Likelihood `json:"-"`
	HumanReason         string     `json:"reason"`
}

// UploadRequest is the validated input handed to the upload pipeline.
type UploadRequest struct {
	AccountID         string
	ImageBytes        []byte
	DeclaredExtension string
}
