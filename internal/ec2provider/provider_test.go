package ec2provider

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/lychee-technology/strata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEC2 struct {
	runIn   *ec2.RunInstancesInput
	runOut  *ec2.RunInstancesOutput
	runErr  error
	pages   []*ec2.DescribeInstancesOutput
	descIns []*ec2.DescribeInstancesInput
	termIn  *ec2.TerminateInstancesInput
	termErr error
}

func (f *fakeEC2) RunInstances(ctx context.Context, in *ec2.RunInstancesInput, _ ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error) {
	f.runIn = in
	return f.runOut, f.runErr
}

func (f *fakeEC2) DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	f.descIns = append(f.descIns, in)
	page := f.pages[len(f.descIns)-1]
	return page, nil
}

func (f *fakeEC2) TerminateInstances(ctx context.Context, in *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.termIn = in
	return &ec2.TerminateInstancesOutput{}, f.termErr
}

func ec2Instance(id, ip string) types.Instance {
	return types.Instance{
		InstanceId:       aws.String(id),
		ImageId:          aws.String("ami-123"),
		PrivateIpAddress: aws.String(ip),
		InstanceType:     types.InstanceTypeT3Micro,
		LaunchTime:       aws.Time(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)),
		State:            &types.InstanceState{Name: types.InstanceStateNameRunning},
	}
}

func TestLaunchBuildsRunInstancesInput(t *testing.T) {
	fake := &fakeEC2{runOut: &ec2.RunInstancesOutput{
		ReservationId: aws.String("r-1"),
		Instances:     []types.Instance{ec2Instance("i-1", "10.0.0.1")},
	}}
	p := New(fake)

	res, err := p.Launch(context.Background(), strata.LaunchRequest{
		ImageID:          "ami-123",
		InstanceType:     "t3.micro",
		MinCount:         1,
		MaxCount:         2,
		ClientToken:      "tok",
		SubnetID:         "subnet-1",
		SecurityGroupIDs: []string{"sg-1"},
		KeyName:          "ops",
		UserData:         "#!/bin/sh\necho hi",
		Tags:             map[string]string{"role": "worker", "env": "prod"},
	})
	require.NoError(t, err)

	in := fake.runIn
	assert.Equal(t, "ami-123", aws.ToString(in.ImageId))
	assert.Equal(t, types.InstanceTypeT3Micro, in.InstanceType)
	assert.Equal(t, int32(1), aws.ToInt32(in.MinCount))
	assert.Equal(t, int32(2), aws.ToInt32(in.MaxCount))
	assert.Equal(t, "tok", aws.ToString(in.ClientToken))
	assert.Equal(t, "subnet-1", aws.ToString(in.SubnetId))
	assert.Equal(t, []string{"sg-1"}, in.SecurityGroupIds)
	assert.Equal(t, "ops", aws.ToString(in.KeyName))
	userData, err := base64.StdEncoding.DecodeString(aws.ToString(in.UserData))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hi", string(userData))
	require.Len(t, in.TagSpecifications, 1)
	assert.Equal(t, types.ResourceTypeInstance, in.TagSpecifications[0].ResourceType)
	assert.Equal(t, "env", aws.ToString(in.TagSpecifications[0].Tags[0].Key))

	assert.Equal(t, "r-1", res.ReservationID)
	require.Len(t, res.Instances, 1)
	assert.Equal(t, strata.Instance{
		InstanceID:       "i-1",
		LaunchTime:       time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		ImageID:          "ami-123",
		PrivateIPAddress: "10.0.0.1",
		InstanceType:     "t3.micro",
		State:            "running",
	}, res.Instances[0])
}

func TestLaunchClassifiesErrors(t *testing.T) {
	fake := &fakeEC2{runErr: &smithy.GenericAPIError{Code: "InsufficientInstanceCapacity"}}
	_, err := New(fake).Launch(context.Background(), strata.LaunchRequest{MinCount: 1, MaxCount: 1})
	assert.True(t, strata.IsTransient(err))

	fake.runErr = &smithy.GenericAPIError{Code: "InvalidAMIID.NotFound"}
	_, err = New(fake).Launch(context.Background(), strata.LaunchRequest{MinCount: 1, MaxCount: 1})
	assert.True(t, strata.IsPermanent(err))
}

func TestDescribeFollowsPages(t *testing.T) {
	fake := &fakeEC2{pages: []*ec2.DescribeInstancesOutput{
		{
			Reservations: []types.Reservation{{ReservationId: aws.String("r-1"), Instances: []types.Instance{ec2Instance("i-1", "10.0.0.1")}}},
			NextToken:    aws.String("page-2"),
		},
		{
			Reservations: []types.Reservation{{ReservationId: aws.String("r-2"), Instances: []types.Instance{ec2Instance("i-2", "10.0.0.2")}}},
		},
	}}

	res, err := New(fake).Describe(context.Background(), strata.InstanceFilter{
		Name:   strata.FilterPrivateIPAddress,
		Values: []string{"10.0.0.1", "10.0.0.2"},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "i-2", res[1].Instances[0].InstanceID)

	require.Len(t, fake.descIns, 2)
	assert.Equal(t, "private-ip-address", aws.ToString(fake.descIns[0].Filters[0].Name))
	assert.Equal(t, "page-2", aws.ToString(fake.descIns[1].NextToken))
}

func TestTerminate(t *testing.T) {
	fake := &fakeEC2{}
	p := New(fake)

	require.NoError(t, p.Terminate(context.Background(), nil))
	assert.Nil(t, fake.termIn)

	require.NoError(t, p.Terminate(context.Background(), []string{"i-1"}))
	assert.Equal(t, []string{"i-1"}, fake.termIn.InstanceIds)

	fake.termErr = &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound"}
	require.NoError(t, p.Terminate(context.Background(), []string{"i-1"}))

	fake.termErr = &smithy.GenericAPIError{Code: "UnauthorizedOperation"}
	err := p.Terminate(context.Background(), []string{"i-1"})
	assert.True(t, strata.IsPermanent(err))
}

func TestClassify(t *testing.T) {
	serverErr := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}},
		Err:      errors.New("service unavailable"),
	}
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "throttled", err: &smithy.GenericAPIError{Code: "RequestLimitExceeded"}, transient: true},
		{name: "capacity", err: &smithy.GenericAPIError{Code: "InsufficientInstanceCapacity"}, transient: true},
		{name: "auth", err: &smithy.GenericAPIError{Code: "AuthFailure"}, transient: false},
		{name: "quota", err: &smithy.GenericAPIError{Code: "InstanceLimitExceeded"}, transient: false},
		{name: "unknown code", err: &smithy.GenericAPIError{Code: "SomethingNew"}, transient: false},
		{name: "deadline", err: context.DeadlineExceeded, transient: true},
		{name: "5xx", err: serverErr, transient: true},
		{name: "plain", err: errors.New("boom"), transient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("launch", tt.err)
			assert.Equal(t, tt.transient, strata.IsTransient(err))
			assert.Equal(t, !tt.transient, strata.IsPermanent(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
