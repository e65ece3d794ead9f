// Package upload runs a single avatar upload from validated bytes to storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/johnrirwin/avatarguard/internal/avatars"
	"github.com/johnrirwin/avatarguard/internal/logging"
	"github.com/johnrirwin/avatarguard/internal/models"
	"github.com/johnrirwin/avatarguard/internal/ratelimit"
	"github.com/johnrirwin/avatarguard/internal/reportqueue"
)

// Response messages.
const (
	MessageSuccess          = "Image uploaded and resized successfully"
	MessageNoFile           = "No file uploaded"
	MessageFiletypeRejected = "File type not allowed"
	MessageTooLarge         = "File too large"
	MessageRateLimited      = "Too many uploads, try again later"
	MessageContentRejected  = "Inappropriate content detected. Upload denied."
	MessageUnverified       = "Unable to verify image content. Upload denied."
	MessageThumbnailFailure = "Failed to create thumbnails"
	MessageStorageError     = "Failed to store image"
	MessageInvalidAccount   = "Invalid token"
)

var allowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
}

// Moderator returns a verdict for raw image bytes.
type Moderator interface {
	Moderate(ctx context.Context, imageBytes []byte) (models.ModerationVerdict, error)
}

// Enqueuer accepts report lines for the chat session.
type Enqueuer interface {
	Enqueue(ctx context.Context, line string) error
}

// Options tune validation and thumbnail sizes.
type Options struct {
	MaxBytes  int64
	LargeSize int
	SmallSize int
}

// Pipeline validates, moderates and stores uploads, and reports rejected ones.
type Pipeline struct {
	moderator Moderator
	store     avatars.Store
	queue     Enqueuer
	limiter   *ratelimit.Limiter
	opts      Options
	logger    *logging.Logger
}

// NewPipeline wires the pipeline. A nil moderator disables classification; a
// nil limiter disables throttling.
func NewPipeline(moderator Moderator, store avatars.Store, queue Enqueuer, limiter *ratelimit.Limiter, opts Options, logger *logging.Logger) *Pipeline {
	if opts.LargeSize <= 0 {
		opts.LargeSize = avatars.DefaultLargeSize
	}
	if opts.SmallSize <= 0 {
		opts.SmallSize = avatars.DefaultSmallSize
	}
	return &Pipeline{
		moderator: moderator,
		store:     store,
		queue:     queue,
		limiter:   limiter,
		opts:      opts,
		logger:    logger,
	}
}

// Upload processes one request. Rejections are reported to the queue before
// returning, without waiting for delivery.
func (p *Pipeline) Upload(ctx context.Context, req models.UploadRequest) Result {
	log := p.logger.With(logging.WithFields(map[string]interface{}{
		"requestId": uuid.NewString(),
		"account":   req.AccountID,
	}))

	account, err := avatars.SanitizeAccount(req.AccountID)
	if err != nil {
		log.Warn("Rejecting upload for unusable account name")
		return failure(KindTokenInvalid, MessageInvalidAccount)
	}

	if res, ok := p.validate(req); !ok {
		log.Info("Upload failed validation", logging.WithField("kind", res.Kind.String()))
		return res
	}

	if !p.limiter.Allow(account) {
		res := failure(KindRateLimited, MessageRateLimited)
		res.RetryAfter = p.limiter.RetryAfter(account)
		log.Info("Upload throttled", logging.WithField("retryAfter", res.RetryAfter.String()))
		return res
	}

	if p.moderator != nil {
		verdict, err := p.moderator.Moderate(ctx, req.ImageBytes)
		if err != nil {
			log.Error("Image classification unavailable, rejecting upload", logging.WithField("error", err.Error()))
			p.report(ctx, log, fmt.Sprintf("Upload by %s could not be verified: %v", strings.TrimSpace(req.AccountID), err))
			return Result{Kind: KindContentRejected, Message: MessageUnverified, Verdict: &verdict}
		}
		if !verdict.Accepted {
			log.Warn("Upload rejected by moderation", logging.WithFields(map[string]interface{}{
				"category":   string(verdict.TriggeredCategory),
				"likelihood": verdict.TriggeredLikelihood.String(),
			}))
			// The account's previous picture is removed too.
			if err := p.store.Delete(ctx, account); err != nil {
				log.Error("Failed to remove stored image", logging.WithField("error", err.Error()))
			}
			p.report(ctx, log, reportqueue.FormatReport(strings.TrimSpace(req.AccountID), verdict.HumanReason))
			return Result{Kind: KindContentRejected, Message: MessageContentRejected, Verdict: &verdict}
		}
	}

	set, err := avatars.MakeThumbnails(req.ImageBytes, p.opts.LargeSize, p.opts.SmallSize)
	if err != nil {
		log.Error("Failed to create thumbnails", logging.WithField("error", err.Error()))
		return failure(KindThumbnailFailure, MessageThumbnailFailure)
	}

	if err := p.store.Save(ctx, account, set); err != nil {
		log.Error("Failed to store image", logging.WithField("error", err.Error()))
		if errors.Is(err, avatars.ErrThumbnail) {
			return failure(KindThumbnailFailure, MessageThumbnailFailure)
		}
		return failure(KindStorageError, MessageStorageError)
	}

	log.Info("Image uploaded", logging.WithField("bytes", len(req.ImageBytes)))
	res := Result{Kind: KindSuccess, Message: MessageSuccess}
	if p.moderator != nil {
		res.Verdict = &models.ModerationVerdict{Accepted: true, HumanReason: "Approved"}
	}
	return res
}

func (p *Pipeline) validate(req models.UploadRequest) (Result, bool) {
	if len(req.ImageBytes) == 0 {
		return failure(KindNoFile, MessageNoFile), false
	}
	if p.opts.MaxBytes > 0 && int64(len(req.ImageBytes)) > p.opts.MaxBytes {
		return failure(KindTooLarge, MessageTooLarge), false
	}

	ext := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.DeclaredExtension), "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return failure(KindFiletypeRejected, MessageFiletypeRejected), false
	}
	if _, ok := DetectContentType(req.ImageBytes); !ok {
		return failure(KindFiletypeRejected, MessageFiletypeRejected), false
	}
	return Result{}, true
}

// report enqueues a line for the chat session. Failures are logged only: the
// upload has already been refused.
func (p *Pipeline) report(ctx context.Context, log *logging.Logger, line string) {
	if p.queue == nil {
		return
	}
	if err := p.queue.Enqueue(ctx, line); err != nil {
		log.Error("Failed to queue moderation report", logging.WithField("error", err.Error()))
	}
}
