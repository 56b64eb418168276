// Package ec2provider implements strata.CloudProvider on top of the EC2 API.
package ec2provider

import (
	"context"
	"encoding/base64"
	"errors"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/lychee-technology/strata"
	"github.com/lychee-technology/strata/internal"
	"go.uber.org/zap"
)

// API is the subset of the EC2 client the provider calls.
type API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Provider is a strata.CloudProvider for one region.
type Provider struct {
	client API
}

func New(client API) *Provider {
	return &Provider{client: client}
}

// NewFromConfig builds an EC2 client from the AWS section of the config.
func NewFromConfig(ctx context.Context, cfg strata.AWSConfig) (*Provider, error) {
	awsCfg, err := internal.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return New(ec2.NewFromConfig(awsCfg)), nil
}

func (p *Provider) Launch(ctx context.Context, req strata.LaunchRequest) (*strata.Reservation, error) {
	in := &ec2.RunInstancesInput{
		ImageId:      aws.String(req.ImageID),
		InstanceType: types.InstanceType(req.InstanceType),
		MinCount:     aws.Int32(int32(req.MinCount)),
		MaxCount:     aws.Int32(int32(req.MaxCount)),
	}
	if req.ClientToken != "" {
		in.ClientToken = aws.String(req.ClientToken)
	}
	if req.SubnetID != "" {
		in.SubnetId = aws.String(req.SubnetID)
	}
	if len(req.SecurityGroupIDs) > 0 {
		in.SecurityGroupIds = req.SecurityGroupIDs
	}
	if req.KeyName != "" {
		in.KeyName = aws.String(req.KeyName)
	}
	if req.UserData != "" {
		in.UserData = aws.String(base64.StdEncoding.EncodeToString([]byte(req.UserData)))
	}
	if len(req.Tags) > 0 {
		in.TagSpecifications = []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         toTags(req.Tags),
		}}
	}

	out, err := p.client.RunInstances(ctx, in)
	if err != nil {
		return nil, Classify("launch", err)
	}
	res := &strata.Reservation{
		ReservationID: aws.ToString(out.ReservationId),
		Instances:     make([]strata.Instance, 0, len(out.Instances)),
	}
	for _, inst := range out.Instances {
		res.Instances = append(res.Instances, toInstance(inst))
	}
	zap.S().Debugw("ec2 run instances", "reservation_id", res.ReservationID, "instances", len(res.Instances))
	return res, nil
}

func (p *Provider) Describe(ctx context.Context, filter strata.InstanceFilter) ([]strata.Reservation, error) {
	in := &ec2.DescribeInstancesInput{
		Filters: []types.Filter{{
			Name:   aws.String(filter.Name),
			Values: filter.Values,
		}},
	}

	var out []strata.Reservation
	pager := ec2.NewDescribeInstancesPaginator(p.client, in)
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, Classify("describe", err)
		}
		for _, r := range page.Reservations {
			res := strata.Reservation{ReservationID: aws.ToString(r.ReservationId)}
			for _, inst := range r.Instances {
				res.Instances = append(res.Instances, toInstance(inst))
			}
			out = append(out, res)
		}
	}
	return out, nil
}

// Terminate is idempotent: ids EC2 no longer knows are treated as terminated.
func (p *Provider) Terminate(ctx context.Context, instanceIDs []string) error {
	if len(instanceIDs) == 0 {
		return nil
	}
	_, err := p.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: instanceIDs})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidInstanceID.NotFound" {
			zap.S().Warnw("ec2 terminate: instances already gone", "instance_ids", instanceIDs)
			return nil
		}
		return Classify("terminate", err)
	}
	return nil
}

var transientCodes = map[string]struct{}{
	"RequestLimitExceeded":         {},
	"InsufficientInstanceCapacity": {},
	"InsufficientCapacity":         {},
	"Unavailable":                  {},
	"ServiceUnavailable":           {},
	"InternalError":                {},
	"RequestTimeout":               {},
	"IdempotentParameterMismatch":  {},
}

var permanentCodes = map[string]struct{}{
	"InvalidAMIID.NotFound":       {},
	"InvalidAMIID.Malformed":      {},
	"InvalidParameterValue":       {},
	"InstanceLimitExceeded":       {},
	"VcpuLimitExceeded":           {},
	"UnauthorizedOperation":       {},
	"AuthFailure":                 {},
	"InvalidSubnetID.NotFound":    {},
	"InvalidGroup.NotFound":       {},
	"InvalidKeyPair.NotFound":     {},
	"InvalidInstanceID.Malformed": {},
}

// Classify converts an SDK error into a transient or permanent provider error.
func Classify(op string, err error) error {
	return strata.NewProviderError(op, isTransient(err), err)
}

func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if _, ok := transientCodes[code]; ok {
			return true
		}
		if _, ok := permanentCodes[code]; ok {
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if retry.IsErrorThrottles(retry.DefaultThrottles).IsErrorThrottle(err) == aws.TrueTernary {
		return true
	}
	if retry.IsErrorRetryables(retry.DefaultRetryables).IsErrorRetryable(err) == aws.TrueTernary {
		return true
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
		return true
	}
	return false
}

func toInstance(inst types.Instance) strata.Instance {
	out := strata.Instance{
		InstanceID:       aws.ToString(inst.InstanceId),
		ImageID:          aws.ToString(inst.ImageId),
		PrivateIPAddress: aws.ToString(inst.PrivateIpAddress),
		PrivateDNSName:   aws.ToString(inst.PrivateDnsName),
		InstanceType:     string(inst.InstanceType),
	}
	if inst.LaunchTime != nil {
		out.LaunchTime = *inst.LaunchTime
	}
	if inst.State != nil {
		out.State = string(inst.State.Name)
	}
	return out
}

func toTags(tags map[string]string) []types.Tag {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(tags[k])})
	}
	return out
}

var _ strata.CloudProvider = (*Provider)(nil)
