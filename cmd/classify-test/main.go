package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/johnrirwin/avatarguard/internal/models"
	"github.com/johnrirwin/avatarguard/internal/moderation"
)

type classifier interface {
	moderation.Classifier
	Close() error
}

func main() {
	defaultImage := os.Getenv("IMAGE")
	defaultProvider := os.Getenv("MODERATION_PROVIDER")
	if defaultProvider == "" {
		defaultProvider = "vision"
	}
	imagePath := flag.String("image", defaultImage, "path to local image file")
	provider := flag.String("provider", defaultProvider, "classifier: vision, rekognition or mock")
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "image path is required (pass -image or IMAGE env var)")
		os.Exit(1)
	}

	imageBytes, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read image: %v\n", err)
		os.Exit(1)
	}

	policy, err := moderation.ParsePolicy(os.Getenv("MODERATION_POLICY"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid MODERATION_POLICY: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var c classifier
	switch *provider {
	case "vision":
		c, err = moderation.NewVisionClassifier(ctx, os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	case "rekognition":
		c, err = moderation.NewRekognitionClassifier(ctx, os.Getenv("AWS_REGION"))
	case "mock":
		c = &moderation.MockClassifier{}
	default:
		err = fmt.Errorf("unknown provider %q", *provider)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize classifier: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	result, err := c.Classify(ctx, imageBytes)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s call failed: %v\n", *provider, err)
		os.Exit(1)
	}

	categories := make([]string, 0, len(result))
	for category := range result {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)

	fmt.Println("Likelihoods:")
	for _, category := range categories {
		fmt.Printf("  - %s: %s\n", category, result[models.Category(category)])
	}

	verdict := moderation.Decide(result, policy)
	if verdict.Accepted {
		fmt.Println("Verdict: accepted")
		return
	}
	fmt.Printf("Verdict: rejected (%s at %s)\n", verdict.TriggeredCategory, verdict.TriggeredLikelihood)
	fmt.Printf("Reason: %s\n", verdict.HumanReason)
}
