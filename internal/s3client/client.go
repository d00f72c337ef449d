package s3client

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config carries the static credentials used to reach S3.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// New builds an S3 client from static credentials. The credentials are passed
// explicitly rather than discovered from ambient process state, so callers
// decide up front whether the client exists at all.
func New(ctx context.Context, cfg Config) (*s3.Client, error) {
	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsConfig), nil
}
