package cloudfront

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct {
	mock.Mock
}

func (m *mockAPI) CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*cloudfront.CreateInvalidationOutput)
	return out, args.Error(1)
}

func TestInvalidator_Invalidate(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateInvalidation", mock.Anything, mock.MatchedBy(func(in *cloudfront.CreateInvalidationInput) bool {
		return aws.ToString(in.DistributionId) == "E123" &&
			aws.ToInt32(in.InvalidationBatch.Paths.Quantity) == 1 &&
			in.InvalidationBatch.Paths.Items[0] == "/acme/pets/*" &&
			aws.ToString(in.InvalidationBatch.CallerReference) != ""
	})).Return(&cloudfront.CreateInvalidationOutput{
		Invalidation: &types.Invalidation{Id: aws.String("I1")},
	}, nil).Once()

	inv := NewWithAPI(api, Config{DistributionID: "E123"}, nil)
	assert.True(t, inv.IsConfigured())
	require.NoError(t, inv.Invalidate(context.Background(), "/acme/pets/*"))
	api.AssertExpectations(t)
}

func TestInvalidator_Failure(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateInvalidation", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	inv := NewWithAPI(api, Config{DistributionID: "E123"}, nil)
	assert.Error(t, inv.Invalidate(context.Background(), "/acme/pets/*"))
}

func TestInvalidator_NoPaths(t *testing.T) {
	api := &mockAPI{}
	inv := NewWithAPI(api, Config{DistributionID: "E123"}, nil)
	require.NoError(t, inv.Invalidate(context.Background()))
	api.AssertNotCalled(t, "CreateInvalidation", mock.Anything, mock.Anything)
}

func TestInvalidator_RateLimitHonoursContext(t *testing.T) {
	api := &mockAPI{}
	api.On("CreateInvalidation", mock.Anything, mock.Anything).Return(&cloudfront.CreateInvalidationOutput{}, nil)
	inv := NewWithAPI(api, Config{DistributionID: "E123", RequestsPerSec: 0.001, Burst: 1}, nil)

	require.NoError(t, inv.Invalidate(context.Background(), "/a/*"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, inv.Invalidate(ctx, "/b/*"))
	api.AssertNumberOfCalls(t, "CreateInvalidation", 1)
}

func TestInvalidator_NotConfigured(t *testing.T) {
	inv := NewWithAPI(&mockAPI{}, Config{}, nil)
	assert.False(t, inv.IsConfigured())
}
