package moderation

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rekognitiontypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"

	"github.com/johnrirwin/avatarguard/internal/models"
)

// rekognitionAPI is the subset of the Rekognition client the classifier calls.
type rekognitionAPI interface {
	DetectModerationLabels(ctx context.Context, params *rekognition.DetectModerationLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectModerationLabelsOutput, error)
}

// labelCategories maps Rekognition top-level and second-level label names to categories.
var labelCategories = map[string]models.Category{
	"explicit nudity":              models.CategoryAdult,
	"explicit":                     models.CategoryAdult,
	"nudity":                       models.CategoryAdult,
	"sexual activity":              models.CategoryAdult,
	"graphic male nudity":          models.CategoryAdult,
	"graphic female nudity":        models.CategoryAdult,
	"violence":                     models.CategoryViolence,
	"graphic violence":             models.CategoryViolence,
	"graphic violence or gore":     models.CategoryViolence,
	"visually disturbing":          models.CategoryViolence,
	"weapon violence":              models.CategoryViolence,
	"physical violence":            models.CategoryViolence,
	"suggestive":                   models.CategoryRacy,
	"swimwear or underwear":        models.CategoryRacy,
	"female swimwear or underwear": models.CategoryRacy,
	"male swimwear or underwear":   models.CategoryRacy,
	"medical":                      models.CategoryMedical,
}

// RekognitionClassifier calls Rekognition using byte payloads (no S3 dependency).
type RekognitionClassifier struct {
	client rekognitionAPI
}

// NewRekognitionClassifier creates a classifier that uses ambient AWS credentials/profile.
func NewRekognitionClassifier(ctx context.Context, region string) (*RekognitionClassifier, error) {
	loadOptions := []func(*awsconfig.LoadOptions) error{}
	trimmedRegion := strings.TrimSpace(region)
	if trimmedRegion != "" {
		loadOptions = append(loadOptions, awsconfig.WithRegion(trimmedRegion))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &RekognitionClassifier{
		client: rekognition.NewFromConfig(cfg),
	}, nil
}

// Classify maps DetectModerationLabels output to per-category likelihoods.
// Categories Rekognition did not label come back as VERY_UNLIKELY.
func (c *RekognitionClassifier) Classify(ctx context.Context, imageBytes []byte) (models.ClassificationResult, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("%w: image bytes are required", ErrClassificationUnavailable)
	}

	output, err := c.client.DetectModerationLabels(ctx, &rekognition.DetectModerationLabelsInput{
		Image: &rekognitiontypes.Image{
			Bytes: imageBytes,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: rekognition detect moderation labels failed: %v", ErrClassificationUnavailable, err)
	}
	if output == nil {
		return nil, fmt.Errorf("%w: rekognition returned an empty response", ErrClassificationUnavailable)
	}

	return classifyLabels(output.ModerationLabels), nil
}

// Close is a no-op; the AWS client holds no long-lived connections of its own.
func (c *RekognitionClassifier) Close() error {
	return nil
}

func classifyLabels(labels []rekognitiontypes.ModerationLabel) models.ClassificationResult {
	result := models.ClassificationResult{
		models.CategoryAdult:    models.LikelihoodVeryUnlikely,
		models.CategoryViolence: models.LikelihoodVeryUnlikely,
		models.CategoryRacy:     models.LikelihoodVeryUnlikely,
	}

	for _, label := range labels {
		confidence := 0.0
		if label.Confidence != nil {
			confidence = float64(*label.Confidence)
		}

		category, ok := labelCategories[strings.ToLower(aws.ToString(label.Name))]
		if !ok {
			category, ok = labelCategories[strings.ToLower(aws.ToString(label.ParentName))]
		}
		if !ok {
			continue
		}

		if likelihood := confidenceToLikelihood(confidence); likelihood > result[category] {
			result[category] = likelihood
		}
	}

	return result
}

// confidenceToLikelihood buckets a 0-100 confidence score.
func confidenceToLikelihood(confidence float64) models.Likelihood {
	switch {
	case confidence >= 90:
		return models.LikelihoodVeryLikely
	case confidence >= 70:
		return models.LikelihoodLikely
	case confidence >= 50:
		return models.LikelihoodPossible
	case confidence >= 25:
		return models.LikelihoodUnlikely
	default:
		return models.LikelihoodVeryUnlikely
	}
}
