package moderation

import (
	"context"

	"github.com/johnrirwin/avatarguard/internal/models"
)

// MockClassifier is a simple mock implementation for tests and local runs.
type MockClassifier struct {
	Result models.ClassificationResult
	Err    error
}

// Classify returns the configured result/error. With neither set every
// category is VERY_UNLIKELY.
func (m *MockClassifier) Classify(ctx context.Context, imageBytes []byte) (models.ClassificationResult, error) {
	_ = ctx
	_ = imageBytes
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return models.ClassificationResult{
		models.CategoryAdult:    models.LikelihoodVeryUnlikely,
		models.CategoryViolence: models.LikelihoodVeryUnlikely,
	}, nil
}

// Close satisfies io.Closer so the mock can stand in for remote clients.
func (m *MockClassifier) Close() error {
	return nil
}
