package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingProvider captures the model of every request it serves.
type recordingProvider struct {
	name        string
	models      []string
	err         error
	seenModels  []string
	streamCalls int
}

func (m *recordingProvider) Name() string     { return m.name }
func (m *recordingProvider) Models() []string { return m.models }
func (m *recordingProvider) CountTokens(content string) (int, error) {
	return len(content) / 4, nil
}

func (m *recordingProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	m.seenModels = append(m.seenModels, req.Model)
	if m.err != nil {
		return nil, m.err
	}
	return &CompletionResponse{Model: req.Model, Content: "ok", FinishReason: "stop"}, nil
}

func (m *recordingProvider) Stream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	m.seenModels = append(m.seenModels, req.Model)
	m.streamCalls++
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Content: "ok", Done: true}
	close(ch)
	return ch, nil
}

func TestRouter_MainModelDefaultsToFirstAdvertised(t *testing.T) {
	p := &recordingProvider{name: "fake", models: []string{"big", "small"}}

	r := NewRouter(p)

	assert.Equal(t, "big", r.MainModel())
	assert.Equal(t, "big", r.FixingModel(), "no fixing model set, falls back to main")
}

func TestRouter_FixingModelDistinctUntilReuseForced(t *testing.T) {
	p := &recordingProvider{name: "fake", models: []string{"big"}}

	r := NewRouter(p).SetMainModel("big").SetFixingModel("small")
	assert.Equal(t, "small", r.FixingModel())

	r.SetUseMainForFixing(true)
	assert.Equal(t, "big", r.FixingModel())
}

func TestRouter_SetMainModelIgnoresEmpty(t *testing.T) {
	p := &recordingProvider{name: "fake", models: []string{"big"}}

	r := NewRouter(p).SetMainModel("")
	assert.Equal(t, "big", r.MainModel())
}

func TestRouter_PinnedProvidersOverrideRequestModel(t *testing.T) {
	p := &recordingProvider{name: "fake", models: []string{"big"}}
	r := NewRouter(p).SetMainModel("big").SetFixingModel("small")
	ctx := context.Background()

	_, err := r.ForMain().Complete(ctx, &CompletionRequest{Model: "caller-says-otherwise"})
	require.NoError(t, err)
	_, err = r.ForFixing().Complete(ctx, &CompletionRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{"big", "small"}, p.seenModels)
	assert.Equal(t, []string{"small"}, r.ForFixing().Models())
}

func TestRouter_PinnedProviderStreams(t *testing.T) {
	p := &recordingProvider{name: "fake", models: []string{"big"}}
	r := NewRouter(p)

	ch, err := r.ForMain().Stream(context.Background(), &CompletionRequest{})
	require.NoError(t, err)
	for range ch {
	}
	assert.Equal(t, 1, p.streamCalls)
	assert.Equal(t, []string{"big"}, p.seenModels)
}

func TestNewProvider_UnknownKindRejected(t *testing.T) {
	_, err := NewProvider(context.Background(), "mainframe", "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestMultiProvider_PrimaryFirst(t *testing.T) {
	p1 := &recordingProvider{name: "p1", models: []string{"m1"}}
	p2 := &recordingProvider{name: "p2", models: []string{"m2"}}

	mp := NewMultiProvider(p1, p2)

	assert.Equal(t, "multi:p1", mp.Name())
	assert.Equal(t, []string{"m1", "m2"}, mp.Models())

	resp, err := mp.Complete(context.Background(), &CompletionRequest{Model: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Empty(t, p2.seenModels, "fallback untouched while primary succeeds")
}

func TestMultiProvider_FallsThroughOnPrimaryFailure(t *testing.T) {
	p1 := &recordingProvider{name: "p1", err: &ProviderError{Provider: "p1", Code: "http_500", Message: "boom"}}
	p2 := &recordingProvider{name: "p2", models: []string{"m2"}}

	mp := NewMultiProvider(p1, p2)

	resp, err := mp.Complete(context.Background(), &CompletionRequest{Model: "m2"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Len(t, p2.seenModels, 1)
}

func TestMultiProvider_AuthErrorOnPrimaryIsTerminal(t *testing.T) {
	p1 := &recordingProvider{name: "p1", err: &ProviderError{Provider: "p1", Code: "authentication_error", Message: "bad key"}}
	p2 := &recordingProvider{name: "p2", models: []string{"m2"}}

	mp := NewMultiProvider(p1, p2)

	_, err := mp.Complete(context.Background(), &CompletionRequest{})
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
	assert.Empty(t, p2.seenModels, "auth failure must not drain the fallback account")
}

func TestMultiProvider_AllFailed(t *testing.T) {
	p1 := &recordingProvider{name: "p1", err: &ProviderError{Provider: "p1", Code: "http_500", Message: "a"}}
	p2 := &recordingProvider{name: "p2", err: &ProviderError{Provider: "p2", Code: "http_503", Message: "b"}}

	_, err := NewMultiProvider(p1, p2).Complete(context.Background(), &CompletionRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
}
