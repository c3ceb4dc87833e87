// Package aws implements the resource provider client and the retention
// remediator on top of the AWS SDK.
package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/vigil/internal/provider"
	"github.com/yairfalse/vigil/pkg/compliance"
	"github.com/yairfalse/vigil/pkg/resource"
)

const providerName = "aws"

// Config holds AWS client configuration.
type Config struct {
	Region  string
	Profile string
}

// Client lists and describes buckets and log groups for one account and
// region. It implements provider.Client.
type Client struct {
	region    string
	accountID string

	s3Client     S3API
	cwLogsClient CloudWatchLogsAPI
}

var _ provider.Client = (*Client)(nil)

// New loads the default credential chain and resolves the account ID.
// SDK-level retries are disabled; provider.Provider owns the retry policy.
func New(ctx context.Context, cfg Config) (*Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
		config.WithRetryMaxAttempts(1),
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	accountID, err := getAccountID(ctx, ec2.NewFromConfig(awsCfg))
	if err != nil {
		return nil, fmt.Errorf("get account id: %w", err)
	}

	return &Client{
		region:       cfg.Region,
		accountID:    accountID,
		s3Client:     s3.NewFromConfig(awsCfg),
		cwLogsClient: cloudwatchlogs.NewFromConfig(awsCfg),
	}, nil
}

func getAccountID(ctx context.Context, client EC2API) (string, error) {
	output, err := client.DescribeAccountAttributes(ctx, &ec2.DescribeAccountAttributesInput{})
	if err != nil {
		return "", err
	}

	for _, attr := range output.AccountAttributes {
		if aws.ToString(attr.AttributeName) == "account-id" && len(attr.AttributeValues) > 0 {
			return aws.ToString(attr.AttributeValues[0].AttributeValue), nil
		}
	}

	return "unknown", nil
}

// AccountID returns the resolved account.
func (c *Client) AccountID() string {
	return c.accountID
}

// Remediator returns a remediator sharing this client's CloudWatch Logs API.
func (c *Client) Remediator() *Remediator {
	return NewRemediator(c.cwLogsClient)
}

// ListResources returns one page of resources of kind.
func (c *Client) ListResources(ctx context.Context, kind resource.Kind, pageToken string) (provider.Page, error) {
	switch kind {
	case resource.KindBucket:
		return c.listBuckets(ctx, pageToken)
	case resource.KindLogGroup:
		return c.listLogGroups(ctx, pageToken)
	default:
		return provider.Page{}, &compliance.ConfigurationError{Reason: fmt.Sprintf("unsupported kind %q", kind)}
	}
}

// DescribeResource fetches one resource's current detail.
func (c *Client) DescribeResource(ctx context.Context, kind resource.Kind, id string) (resource.Resource, error) {
	switch kind {
	case resource.KindBucket:
		return c.describeBucket(ctx, id)
	case resource.KindLogGroup:
		return c.describeLogGroup(ctx, id)
	default:
		return resource.Resource{}, &compliance.ConfigurationError{Reason: fmt.Sprintf("unsupported kind %q", kind)}
	}
}

func (c *Client) listBuckets(ctx context.Context, pageToken string) (provider.Page, error) {
	input := &s3.ListBucketsInput{}
	if pageToken != "" {
		input.ContinuationToken = aws.String(pageToken)
	}

	output, err := c.s3Client.ListBuckets(ctx, input)
	if err != nil {
		return provider.Page{}, classify(err, resource.KindBucket, "", "list buckets")
	}

	page := provider.Page{NextToken: aws.ToString(output.ContinuationToken)}
	for _, b := range output.Buckets {
		page.Items = append(page.Items, c.convertBucket(b))
	}

	log.Debug().
		Int("count", len(page.Items)).
		Bool("more", page.NextToken != "").
		Msg("listed buckets")

	return page, nil
}

func (c *Client) convertBucket(b s3types.Bucket) resource.Resource {
	name := aws.ToString(b.Name)
	r := c.newResource(resource.KindBucket, name, name)
	r.Attrs[resource.AttrARN] = "arn:aws:s3:::" + name
	if b.CreationDate != nil {
		r.Attrs[resource.AttrCreated] = b.CreationDate.Format("2006-01-02")
	}
	return r
}

// describeBucket adds the policy status. A bucket without a policy carries no
// policy_status attribute.
func (c *Client) describeBucket(ctx context.Context, name string) (resource.Resource, error) {
	r := c.newResource(resource.KindBucket, name, name)
	r.Attrs[resource.AttrARN] = "arn:aws:s3:::" + name

	output, err := c.s3Client.GetBucketPolicyStatus(ctx, &s3.GetBucketPolicyStatusInput{Bucket: aws.String(name)})
	if err != nil {
		if errorCode(err) == "NoSuchBucketPolicy" {
			return r, nil
		}
		return resource.Resource{}, classify(err, resource.KindBucket, name, "get bucket policy status")
	}

	if output.PolicyStatus != nil {
		status := resource.PolicyNotPublic
		if aws.ToBool(output.PolicyStatus.IsPublic) {
			status = resource.PolicyPublic
		}
		r.Attrs[resource.AttrPolicyStatus] = status
	}
	return r, nil
}

func (c *Client) listLogGroups(ctx context.Context, pageToken string) (provider.Page, error) {
	input := &cloudwatchlogs.DescribeLogGroupsInput{}
	if pageToken != "" {
		input.NextToken = aws.String(pageToken)
	}

	output, err := c.cwLogsClient.DescribeLogGroups(ctx, input)
	if err != nil {
		return provider.Page{}, classify(err, resource.KindLogGroup, "", "describe log groups")
	}

	page := provider.Page{NextToken: aws.ToString(output.NextToken)}
	for _, lg := range output.LogGroups {
		page.Items = append(page.Items, c.convertLogGroup(lg))
	}

	log.Debug().
		Int("count", len(page.Items)).
		Bool("more", page.NextToken != "").
		Msg("listed log groups")

	return page, nil
}

// describeLogGroup looks the group up by prefix and requires an exact match.
func (c *Client) describeLogGroup(ctx context.Context, name string) (resource.Resource, error) {
	var nextToken *string
	for {
		output, err := c.cwLogsClient.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
			LogGroupNamePrefix: aws.String(name),
			NextToken:          nextToken,
		})
		if err != nil {
			return resource.Resource{}, classify(err, resource.KindLogGroup, name, "describe log group")
		}

		for _, lg := range output.LogGroups {
			if aws.ToString(lg.LogGroupName) == name {
				return c.convertLogGroup(lg), nil
			}
		}

		if output.NextToken == nil {
			return resource.Resource{}, &compliance.NotFoundError{Kind: resource.KindLogGroup, ID: name}
		}
		nextToken = output.NextToken
	}
}

func (c *Client) convertLogGroup(lg cwltypes.LogGroup) resource.Resource {
	name := aws.ToString(lg.LogGroupName)
	r := c.newResource(resource.KindLogGroup, name, name)
	r.Attrs[resource.AttrARN] = aws.ToString(lg.Arn)
	if lg.RetentionInDays != nil {
		r.Attrs[resource.AttrRetentionInDays] = strconv.Itoa(int(*lg.RetentionInDays))
	}
	if lg.StoredBytes != nil {
		r.Attrs[resource.AttrStoredBytes] = strconv.FormatInt(*lg.StoredBytes, 10)
	}
	if lg.CreationTime != nil {
		r.Attrs[resource.AttrCreated] = time.UnixMilli(*lg.CreationTime).UTC().Format("2006-01-02")
	}
	return r
}

func (c *Client) newResource(kind resource.Kind, id, name string) resource.Resource {
	return resource.Resource{
		Kind:      kind,
		ID:        id,
		Provider:  providerName,
		Region:    c.region,
		Account:   c.accountID,
		Name:      name,
		Attrs:     make(map[string]string),
		ScannedAt: time.Now(),
	}
}
