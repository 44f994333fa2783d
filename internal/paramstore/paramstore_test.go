package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	values map[string]string
	err    error
	calls  []string
	last   *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls = append(f.calls, *in.Name)
	f.last = in
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[*in.Name]
	if !ok {
		return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name}}, nil
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: in.Name, Value: &v}}, nil
}

func TestGetParameterDecryptsAndCaches(t *testing.T) {
	api := &fakeAPI{values: map[string]string{"/smsforms/token": "s3cret"}}
	c, err := New(api)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		v, err := c.GetParameter(context.Background(), " /smsforms/token ")
		require.NoError(t, err)
		assert.Equal(t, "s3cret", v)
	}
	assert.Len(t, api.calls, 1)
	require.NotNil(t, api.last.WithDecryption)
	assert.True(t, *api.last.WithDecryption)
}

func TestGetParameterErrors(t *testing.T) {
	_, err := New(nil)
	assert.ErrorContains(t, err, "must not be nil")

	_, err = (&Client{}).GetParameter(context.Background(), "p")
	assert.ErrorContains(t, err, "not initialized")

	c, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "  ")
	assert.ErrorContains(t, err, "required")

	_, err = c.GetParameter(context.Background(), "/missing")
	assert.ErrorContains(t, err, "missing value")

	c, err = New(&fakeAPI{err: errors.New("AccessDenied")})
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "/p")
	assert.ErrorContains(t, err, "AccessDenied")
}

func TestResolve(t *testing.T) {
	c, err := New(&fakeAPI{values: map[string]string{"/a": "A", "/b": "B"}})
	require.NoError(t, err)
	ctx := context.Background()

	v, err := Resolve(ctx, c, "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	v, err = Resolve(ctx, c, "ssm:/a")
	require.NoError(t, err)
	assert.Equal(t, "A", v)

	_, err = Resolve(ctx, nil, "ssm:/a")
	assert.ErrorContains(t, err, "needs a parameter store client")

	x, y, z := "ssm:/a", "literal", "ssm:/b"
	require.NoError(t, ResolveAll(ctx, c, &x, &y, nil, &z))
	assert.Equal(t, []string{"A", "literal", "B"}, []string{x, y, z})

	bad := "ssm:/nope"
	assert.Error(t, ResolveAll(ctx, c, &bad))
	assert.Equal(t, "ssm:/nope", bad)
}
