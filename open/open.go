// Package open is the config-driven transport factory: Open picks a
// backend by Config.Adapter ("aws" or "gcp"), builds its QSVC/TSVC
// clients, and returns a ready-to-Start *adapter.Adapter. It lives outside
// package adapter to avoid an import cycle (the transport backends import
// adapter for its QSVCClient/TSVCClient interfaces and shared types).
package open

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	adapter "github.com/relaymq/adapter"
	"github.com/relaymq/adapter/transport/awsmq"
	"github.com/relaymq/adapter/transport/gcpmq"
)

// Open builds the transport backend selected by cfg.Adapter and returns a
// constructed, not-yet-started Adapter. Call Start on the result.
func Open(ctx context.Context, cfg adapter.Config, opts ...adapter.AdapterOption) (*adapter.Adapter, error) {
	switch cfg.Adapter {
	case "aws":
		return openAWS(ctx, cfg, opts...)
	case "gcp":
		return openGCP(ctx, cfg, opts...)
	default:
		return nil, adapter.NewConfigError(fmt.Errorf("unknown mq_adapter %q", cfg.Adapter))
	}
}

func openAWS(ctx context.Context, cfg adapter.Config, opts ...adapter.AdapterOption) (*adapter.Adapter, error) {
	var awsOpts []func(*awsconfig.LoadOptions) error

	if cfg.AWSRegion != "" {
		awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWSRegion))
	}

	if cfg.AWSAccessKeyID != "" {
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			awssdk.CredentialsProviderFunc(func(context.Context) (awssdk.Credentials, error) {
				return awssdk.Credentials{
					AccessKeyID:     cfg.AWSAccessKeyID,
					SecretAccessKey: cfg.AWSSecretAccessKey,
				}, nil
			}),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, adapter.NewConnectionError("load_aws_config", err)
	}

	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWSSQSEndpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.AWSSQSEndpoint)
		}
	})
	snsClient := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.AWSSNSEndpoint != "" {
			o.BaseEndpoint = awssdk.String(cfg.AWSSNSEndpoint)
		}
	})

	return adapter.NewAdapter(cfg, awsmq.NewQSVC(sqsClient), awsmq.NewTSVC(snsClient), opts...)
}

func openGCP(ctx context.Context, cfg adapter.Config, opts ...adapter.AdapterOption) (*adapter.Adapter, error) {
	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID)
	if err != nil {
		return nil, adapter.NewConnectionError("open_pubsub_client", err)
	}

	return adapter.NewAdapter(cfg, gcpmq.NewQSVC(client, cfg.GCPProjectID), gcpmq.NewTSVC(client, cfg.GCPProjectID), opts...)
}
