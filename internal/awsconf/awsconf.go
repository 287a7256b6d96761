// Package awsconf loads AWS configuration for the S3 and Cognito clients,
// optionally assuming a tenant scoped role.
package awsconf

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/aws-sdk-go-v2/service/sts/types"
)

// DefaultRoleDuration is how long assumed credentials stay valid.
const DefaultRoleDuration = time.Hour

// STSAPI is the subset of the STS client used here.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Load returns the default configuration, overriding the region when set.
func Load(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return cfg, nil
}

// AssumeRoleForTenant assumes roleArn with a tenant_id session tag so bucket
// policies can scope access per tenant.
func AssumeRoleForTenant(ctx context.Context, client STSAPI, roleArn, tenantID string, duration time.Duration) (aws.Credentials, error) {
	if tenantID == "" {
		return aws.Credentials{}, fmt.Errorf("tenant ID cannot be empty")
	}
	if roleArn == "" {
		return aws.Credentials{}, fmt.Errorf("role ARN cannot be empty")
	}
	if duration <= 0 {
		duration = DefaultRoleDuration
	}

	out, err := client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(fmt.Sprintf("tenant-%s-session-%d", tenantID, time.Now().Unix())),
		Tags: []types.Tag{
			{Key: aws.String("tenant_id"), Value: aws.String(tenantID)},
		},
		DurationSeconds: aws.Int32(int32(duration.Seconds())),
	})
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("failed to assume role for tenant %s: %w", tenantID, err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("assume role for tenant %s returned no credentials", tenantID)
	}

	return aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "AssumeRoleProvider",
		CanExpire:       true,
		Expires:         aws.ToTime(out.Credentials.Expiration),
	}, nil
}

// tenantProvider refreshes tenant credentials whenever they expire.
type tenantProvider struct {
	client   STSAPI
	roleArn  string
	tenantID string
	duration time.Duration
}

func (p *tenantProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	return AssumeRoleForTenant(ctx, p.client, p.roleArn, p.tenantID, p.duration)
}

// WithTenantRole returns a copy of cfg whose credentials come from assuming
// roleArn for tenantID. The base credentials of cfg sign the STS calls.
func WithTenantRole(cfg aws.Config, client STSAPI, roleArn, tenantID string) aws.Config {
	if client == nil {
		client = sts.NewFromConfig(cfg)
	}
	tenantCfg := cfg.Copy()
	tenantCfg.Credentials = aws.NewCredentialsCache(&tenantProvider{
		client:   client,
		roleArn:  roleArn,
		tenantID: tenantID,
		duration: DefaultRoleDuration,
	})
	return tenantCfg
}
