package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/johnrirwin/avatarguard/internal/models"
)

// ErrClassificationUnavailable is returned when the upstream classifier cannot
// produce a usable result. Callers must treat it as a rejection.
var ErrClassificationUnavailable = errors.New("classification unavailable")

const (
	approvedReason   = "Approved"
	unverifiedReason = "Unable to verify image content"
)

// Classifier is the provider abstraction that scores image bytes per category.
type Classifier interface {
	Classify(ctx context.Context, imageBytes []byte) (models.ClassificationResult, error)
}

// Rule blocks a category at or above Threshold.
type Rule struct {
	Category  models.Category
	Threshold models.Likelihood
}

// Policy is an ordered rule list. Order is the tie-break priority: the first
// rule that matches is reported, regardless of how far over its threshold a
// later rule is.
type Policy []Rule

// DefaultPolicy blocks adult then violence at LIKELY or above.
func DefaultPolicy() Policy {
	return Policy{
		{Category: models.CategoryAdult, Threshold: models.LikelihoodLikely},
		{Category: models.CategoryViolence, Threshold: models.LikelihoodLikely},
	}
}

// ParsePolicy reads "adult=LIKELY,violence=VERY_LIKELY". An empty string yields DefaultPolicy.
func ParsePolicy(raw string) (Policy, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultPolicy(), nil
	}

	var policy Policy
	seen := make(map[models.Category]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, level, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("policy entry %q: expected category=LIKELIHOOD", part)
		}
		category := models.Category(strings.ToLower(strings.TrimSpace(name)))
		if category == "" {
			return nil, fmt.Errorf("policy entry %q: empty category", part)
		}
		if seen[category] {
			return nil, fmt.Errorf("policy entry %q: duplicate category", part)
		}
		threshold, err := models.ParseLikelihood(level)
		if err != nil {
			return nil, fmt.Errorf("policy entry %q: %w", part, err)
		}
		if threshold == models.LikelihoodUnknown {
			return nil, fmt.Errorf("policy entry %q: UNKNOWN would block every image", part)
		}
		seen[category] = true
		policy = append(policy, Rule{Category: category, Threshold: threshold})
	}
	if len(policy) == 0 {
		return DefaultPolicy(), nil
	}
	return policy, nil
}

// Threshold returns the blocking threshold for category, if monitored.
func (p Policy) Threshold(category models.Category) (models.Likelihood, bool) {
	for _, rule := range p {
		if rule.Category == category {
			return rule.Threshold, true
		}
	}
	return models.LikelihoodUnknown, false
}

// Categories lists monitored categories in priority order.
func (p Policy) Categories() []models.Category {
	out := make([]models.Category, 0, len(p))
	for _, rule := range p {
		out = append(out, rule.Category)
	}
	return out
}

// Decide applies policy to result. It performs no I/O and always yields a verdict.
func Decide(result models.ClassificationResult, policy Policy) models.ModerationVerdict {
	for _, rule := range policy {
		likelihood := result[rule.Category]
		if likelihood >= rule.Threshold {
			return models.ModerationVerdict{
				Accepted:            false,
				TriggeredCategory:   rule.Category,
				TriggeredLikelihood: likelihood,
				HumanReason:         fmt.Sprintf("%s content detected (%s)", rule.Category, likelihood),
			}
		}
	}

	return models.ModerationVerdict{
		Accepted:    true,
		HumanReason: approvedReason,
	}
}

// Service classifies image bytes and applies the configured policy, failing closed.
type Service struct {
	classifier Classifier
	policy     Policy
	timeout    time.Duration
}

// NewService creates a moderation service using the configured classifier.
func NewService(classifier Classifier, policy Policy, timeout time.Duration) *Service {
	if len(policy) == 0 {
		policy = DefaultPolicy()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{
		classifier: classifier,
		policy:     policy,
		timeout:    timeout,
	}
}

// Policy returns the active policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// Moderate returns a verdict for imageBytes. When classification fails the
// verdict is a rejection and the error wraps ErrClassificationUnavailable.
func (s *Service) Moderate(ctx context.Context, imageBytes []byte) (models.ModerationVerdict, error) {
	classifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.classifier.Classify(classifyCtx, imageBytes)
	if err == nil && result == nil {
		err = errors.New("classifier returned no result")
	}
	if err != nil {
		if !errors.Is(err, ErrClassificationUnavailable) {
			err = fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
		}
		return models.ModerationVerdict{
			Accepted:    false,
			HumanReason: unverifiedReason,
		}, err
	}

	return Decide(result, s.policy), nil
}
