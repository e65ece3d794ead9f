package moderation

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/johnrirwin/avatarguard/internal/models"
)

// visionAPI is the subset of the Vision client the classifier calls.
type visionAPI interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

type visionClient struct {
	client *vision.ImageAnnotatorClient
}

func (v visionClient) BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
	return v.client.BatchAnnotateImages(ctx, req)
}

func (v visionClient) Close() error {
	return v.client.Close()
}

// VisionClassifier runs Google Cloud Vision SafeSearch detection on image bytes.
type VisionClassifier struct {
	client visionAPI
}

// NewVisionClassifier opens a Vision client. credentialsFile may be empty to
// use application default credentials.
func NewVisionClassifier(ctx context.Context, credentialsFile string) (*VisionClassifier, error) {
	var opts []option.ClientOption
	if path := strings.TrimSpace(credentialsFile); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}

	return &VisionClassifier{client: visionClient{client: client}}, nil
}

// Classify maps the SafeSearch annotation to per-category likelihoods.
func (c *VisionClassifier) Classify(ctx context.Context, imageBytes []byte) (models.ClassificationResult, error) {
	if len(imageBytes) == 0 {
		return nil, fmt.Errorf("%w: image bytes are required", ErrClassificationUnavailable)
	}

	resp, err := c.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: imageBytes},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_SAFE_SEARCH_DETECTION},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vision safe search failed: %v", ErrClassificationUnavailable, err)
	}

	responses := resp.GetResponses()
	if len(responses) == 0 {
		return nil, fmt.Errorf("%w: vision returned no responses", ErrClassificationUnavailable)
	}
	if status := responses[0].GetError(); status != nil && status.GetCode() != 0 {
		return nil, fmt.Errorf("%w: vision error %d: %s", ErrClassificationUnavailable, status.GetCode(), status.GetMessage())
	}

	annotation := responses[0].GetSafeSearchAnnotation()
	if annotation == nil {
		return nil, fmt.Errorf("%w: vision response has no safe search annotation", ErrClassificationUnavailable)
	}

	return models.ClassificationResult{
		models.CategoryAdult:    fromVisionLikelihood(annotation.GetAdult()),
		models.CategoryViolence: fromVisionLikelihood(annotation.GetViolence()),
		models.CategoryRacy:     fromVisionLikelihood(annotation.GetRacy()),
		models.CategoryMedical:  fromVisionLikelihood(annotation.GetMedical()),
		models.CategorySpoof:    fromVisionLikelihood(annotation.GetSpoof()),
	}, nil
}

// Close releases the underlying gRPC connection.
func (c *VisionClassifier) Close() error {
	return c.client.Close()
}

func fromVisionLikelihood(l visionpb.Likelihood) models.Likelihood {
	switch l {
	case visionpb.Likelihood_VERY_UNLIKELY:
		return models.LikelihoodVeryUnlikely
	case visionpb.Likelihood_UNLIKELY:
		return models.LikelihoodUnlikely
	case visionpb.Likelihood_POSSIBLE:
		return models.LikelihoodPossible
	case visionpb.Likelihood_LIKELY:
		return models.LikelihoodLikely
	case visionpb.Likelihood_VERY_LIKELY:
		return models.LikelihoodVeryLikely
	default:
		return models.LikelihoodUnknown
	}
}
