package batch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsbatch "github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/batch/types"
)

// Client submits jobs through the AWS Batch API.
type Client struct {
	api    *awsbatch.Client
	logger *slog.Logger
}

// Config holds explicit construction parameters. Empty credentials fall back
// to the default provider chain.
type Config struct {
	Region          string
	Endpoint        string // optional; custom endpoint (e.g. localstack)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	HTTPClient      *http.Client // optional; tests inject a fake transport
	Logger          *slog.Logger
}

// New creates a Batch client from Config. Region defaults to us-east-1;
// without static keys the default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*Client, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	api := awsbatch.NewFromConfig(awsCfg, func(o *awsbatch.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.HTTPClient != nil {
			o.HTTPClient = cfg.HTTPClient
		}
	})
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{api: api, logger: logger}, nil
}

// Submit sends req to the queue.
func (c *Client) Submit(ctx context.Context, req JobRequest) (string, error) {
	in := &awsbatch.SubmitJobInput{
		JobDefinition: aws.String(req.JobDefinition),
		JobName:       aws.String(req.JobName),
		JobQueue:      aws.String(req.JobQueue),
		Parameters:    req.Parameters,
	}
	if len(req.Environment) > 0 {
		env := make([]types.KeyValuePair, 0, len(req.Environment))
		for _, kv := range req.Environment {
			env = append(env, types.KeyValuePair{Name: aws.String(kv.Name), Value: aws.String(kv.Value)})
		}
		in.ContainerOverrides = &types.ContainerOverrides{Environment: env}
	}
	for _, id := range req.DependsOn {
		in.DependsOn = append(in.DependsOn, types.JobDependency{JobId: aws.String(id)})
	}
	out, err := c.api.SubmitJob(ctx, in)
	if err != nil {
		return "", err
	}
	c.logger.DebugContext(ctx, "batch: submit job response",
		"job_id", aws.ToString(out.JobId),
		"job_name", aws.ToString(out.JobName),
		"job_arn", aws.ToString(out.JobArn))
	if aws.ToString(out.JobId) == "" {
		return "", fmt.Errorf("batch: empty job id for %s", req.JobName)
	}
	return aws.ToString(out.JobId), nil
}
