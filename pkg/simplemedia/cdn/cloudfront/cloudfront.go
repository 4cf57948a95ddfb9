package cloudfront

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"golang.org/x/time/rate"
)

// API is the part of the CloudFront client the invalidator calls
type API interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// Config options for the CloudFront invalidator
type Config struct {
	DistributionID  string  // CloudFront distribution to invalidate
	Region          string  // AWS region used for signing
	AccessKeyID     string  // AWS access key ID
	SecretAccessKey string  // AWS secret access key
	RequestsPerSec  float64 // Invalidation request rate (default: 1)
	Burst           int     // Invalidation burst size (default: 5)
	Timeout         time.Duration
}

// Invalidator implements simplemedia.CDNInvalidator on CloudFront
type Invalidator struct {
	api            API
	distributionID string
	limiter        *rate.Limiter
	timeout        time.Duration
	logger         *slog.Logger
}

// New creates a CloudFront invalidator from AWS configuration
func New(ctx context.Context, config Config, logger *slog.Logger) (*Invalidator, error) {
	if config.DistributionID == "" {
		return nil, errors.New("distribution id is required")
	}
	if config.Region == "" {
		config.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewWithAPI(cloudfront.NewFromConfig(awsCfg), config, logger), nil
}

// NewWithAPI creates an invalidator over an existing client
func NewWithAPI(api API, config Config, logger *slog.Logger) *Invalidator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RequestsPerSec <= 0 {
		config.RequestsPerSec = 1
	}
	if config.Burst < 1 {
		config.Burst = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Invalidator{
		api:            api,
		distributionID: config.DistributionID,
		limiter:        rate.NewLimiter(rate.Limit(config.RequestsPerSec), config.Burst),
		timeout:        config.Timeout,
		logger:         logger,
	}
}

// IsConfigured reports whether a distribution is set
func (i *Invalidator) IsConfigured() bool {
	return i.distributionID != ""
}

// Invalidate requests an invalidation of paths. It waits for the rate limiter
// and succeeds once CloudFront accepts the request.
func (i *Invalidator) Invalidate(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := i.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("invalidation rate limit: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	out, err := i.api.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(uuid.NewString()),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		i.logger.Error("CloudFront invalidation failed", "paths", paths, "error", err)
		return err
	}

	var id string
	if out.Invalidation != nil {
		id = aws.ToString(out.Invalidation.Id)
	}
	i.logger.Info("CloudFront invalidation created", "paths", paths, "invalidation_id", id)
	return nil
}

var _ simplemedia.CDNInvalidator = (*Invalidator)(nil)
