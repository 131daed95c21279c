package paramstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut *ssm.GetParameterOutput
	getErr error
	lastIn *ssm.GetParameterInput
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastIn = in
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"token":"v"}`), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api)
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), " /intake/ai-token ")
	require.NoError(t, err)
	require.Equal(t, `{"token":"v"}`, v)
	require.Equal(t, "/intake/ai-token", *api.lastIn.Name)
	require.True(t, *api.lastIn.WithDecryption)
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api)
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{})
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.ErrorContains(t, err, "must not be nil")
}

// fakeGetter is a minimal Getter stub.
type fakeGetter struct {
	val   string
	err   error
	fails int
	calls int
}

// GetParameter returns err for the first fails calls, or on every call when
// fails is zero.
func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	f.calls++
	if f.err != nil && (f.fails == 0 || f.calls <= f.fails) {
		return "", f.err
	}
	return f.val, nil
}

func TestFetchToken(t *testing.T) {
	tok, err := FetchToken(context.Background(), &fakeGetter{val: `{"token":"sk-from-json"}`}, "/intake/ai-token")
	require.NoError(t, err)
	require.Equal(t, "sk-from-json", tok)

	_, err = FetchToken(context.Background(), &fakeGetter{val: `{"other":"value"}`}, "/intake/ai-token")
	require.ErrorContains(t, err, "API token is empty")

	_, err = FetchToken(context.Background(), &fakeGetter{val: `{"broken`}, "/intake/ai-token")
	require.ErrorContains(t, err, "unmarshal")

	_, err = FetchToken(context.Background(), &fakeGetter{err: errors.New("ssm unavailable")}, "/intake/ai-token")
	require.ErrorContains(t, err, "ssm unavailable")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.False(t, fe.Missing())

	_, err = FetchToken(context.Background(), &fakeGetter{err: &types.ParameterNotFound{}}, "/intake/ai-token")
	require.ErrorAs(t, err, &fe)
	require.True(t, fe.Missing())

	_, err = FetchToken(context.Background(), nil, "/intake/ai-token")
	require.ErrorContains(t, err, "nil")

	_, err = FetchToken(context.Background(), &fakeGetter{}, " ")
	require.ErrorContains(t, err, "empty")
}

func TestCachedToken_FetchesOnce(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`}
	c := NewCachedToken(g, "/intake/ai-token")

	for i := 0; i < 3; i++ {
		tok, err := c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", tok)
	}
	require.Equal(t, 1, g.calls, "SSM must only be called once per process lifetime")
}

func TestCachedToken_RetriesAfterFailure(t *testing.T) {
	g := &fakeGetter{val: `{"token":"sk-from-ssm"}`, err: errors.New("dial tcp: i/o timeout"), fails: 1}
	c := NewCachedToken(g, "/intake/ai-token")

	_, err := c.Get(context.Background())
	require.ErrorContains(t, err, "i/o timeout")

	for i := 0; i < 2; i++ {
		tok, err := c.Get(context.Background())
		require.NoError(t, err)
		require.Equal(t, "sk-from-ssm", tok)
	}
	require.Equal(t, 2, g.calls)
}
