package prerender

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenforge/rendercache/cache"
	"github.com/tokenforge/rendercache/types"
)

// fakeSurface counts encodes and can be made to fail or block.
type fakeSurface struct {
	data    []byte
	err     error
	encodes atomic.Int32
	block   chan struct{} // nil means return immediately
}

func (s *fakeSurface) Encode(ctx context.Context) ([]byte, error) {
	s.encodes.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func makeTokens(n int) ([]types.Token, []*fakeSurface) {
	tokens := make([]types.Token, n)
	surfaces := make([]*fakeSurface, n)
	for i := range tokens {
		surfaces[i] = &fakeSurface{data: []byte{byte(i)}}
		tokens[i] = types.Token{
			Filename:    fmt.Sprintf("token_%02d.png", i),
			CharacterID: fmt.Sprintf("char%02d", i),
			Surface:     surfaces[i],
		}
	}
	return tokens, surfaces
}

func newTokenStore(name string) *TokenStore {
	return cache.NewStore[string, string](cache.StoreConfig{Name: name}, nil)
}

func TestTokensHover_RendersThenSkips(t *testing.T) {
	store := newTokenStore("tokens-hover")
	encoder := NewEncoder(EncoderConfig{Workers: 2, QueueSize: 32})
	defer encoder.Close()
	s := NewTokensHoverStrategy(store, encoder, DefaultTokensHoverConfig(), nil)

	tokens, surfaces := makeTokens(20)
	pctx := &Context{Trigger: TriggerTokensHover, Tokens: tokens}

	require.True(t, s.ShouldTrigger(pctx))

	result, err := s.PreRender(context.Background(), pctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 20, result.Rendered)
	assert.Equal(t, 0, result.Skipped)

	// Identical second call performs zero encodes.
	result, err = s.PreRender(context.Background(), pctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rendered)
	assert.Equal(t, 20, result.Skipped)
	for _, sf := range surfaces {
		assert.Equal(t, int32(1), sf.encodes.Load())
	}
}

func TestTokensHover_CapsWork(t *testing.T) {
	store := newTokenStore("tokens-hover")
	encoder := NewEncoder(EncoderConfig{})
	defer encoder.Close()
	s := NewTokensHoverStrategy(store, encoder, TokensHoverConfig{MaxItems: 5, BatchConcurrency: 2}, nil)

	tokens, _ := makeTokens(12)
	result, err := s.PreRender(context.Background(), &Context{Trigger: TriggerTokensHover, Tokens: tokens})

	require.NoError(t, err)
	assert.Equal(t, 5, result.Rendered)
	assert.Equal(t, 5, store.Len())
}

func TestTokensHover_ItemFailureIsIsolated(t *testing.T) {
	store := newTokenStore("tokens-hover")
	encoder := NewEncoder(EncoderConfig{Workers: 2, QueueSize: 32})
	defer encoder.Close()
	s := NewTokensHoverStrategy(store, encoder, DefaultTokensHoverConfig(), nil)

	tokens, surfaces := makeTokens(5)
	surfaces[2].err = errors.New("encode blew up")

	result, err := s.PreRender(context.Background(), &Context{Trigger: TriggerTokensHover, Tokens: tokens})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 4, result.Rendered)
	assert.Equal(t, 1, result.Metadata["failed"])
	assert.False(t, store.Has("token_02.png"), "a failed render must not leave an entry")
}

func TestTokensHover_MissingSurfaceSkipped(t *testing.T) {
	store := newTokenStore("tokens-hover")
	encoder := NewEncoder(EncoderConfig{})
	defer encoder.Close()
	s := NewTokensHoverStrategy(store, encoder, DefaultTokensHoverConfig(), nil)

	tokens, _ := makeTokens(3)
	tokens[1].Surface = nil

	result, err := s.PreRender(context.Background(), &Context{Trigger: TriggerTokensHover, Tokens: tokens})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Rendered)
	assert.Equal(t, 1, result.Skipped)
}

func TestTokensHover_EntriesCarryInvalidationTags(t *testing.T) {
	store := newTokenStore("tokens-hover")
	encoder := NewEncoder(EncoderConfig{})
	defer encoder.Close()
	s := NewTokensHoverStrategy(store, encoder, DefaultTokensHoverConfig(), nil)

	tokens, _ := makeTokens(1)
	tokens[0].AssetIDs = []string{"a1"}

	_, err := s.PreRender(context.Background(), &Context{
		Trigger:   TriggerTokensHover,
		Tokens:    tokens,
		ProjectID: "p1",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, store.InvalidateByTag(cache.AssetTag("a1")))
}

func TestCharacters_CompositeKeyAcrossOptionChurn(t *testing.T) {
	store := newTokenStore("characters")
	encoder := NewEncoder(EncoderConfig{Workers: 2, QueueSize: 32})
	defer encoder.Close()
	s := NewCharactersStrategy(store, encoder, DefaultCharactersConfig(), nil)

	opts := types.DefaultGenerationOptions()
	tokens, surfaces := makeTokens(3)
	chars := []types.Character{
		{ID: "char00", Name: "Imp"},
		{ID: "char01", Name: "Baron"},
		{ID: "char02", Name: "Butler"},
	}
	pctx := &Context{Trigger: TriggerCharactersChange, Characters: chars, Tokens: tokens, Options: &opts}

	result, err := s.PreRender(context.Background(), pctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rendered)

	// Layout-only churn hits the same keys: everything is skipped.
	churned := opts
	churned.TokenCount = 9
	churned.ExportFormat = "pdf"
	pctx.Options = &churned

	result, err = s.PreRender(context.Background(), pctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rendered)
	assert.Equal(t, 3, result.Skipped)

	// A visual change misses and re-renders.
	visual := opts
	visual.CharacterNameColor = "#ff0000"
	pctx.Options = &visual

	result, err = s.PreRender(context.Background(), pctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Rendered)
	for _, sf := range surfaces {
		assert.Equal(t, int32(2), sf.encodes.Load())
	}
}

func TestCharacters_CharacterWithoutTokenSkipped(t *testing.T) {
	store := newTokenStore("characters")
	encoder := NewEncoder(EncoderConfig{})
	defer encoder.Close()
	s := NewCharactersStrategy(store, encoder, DefaultCharactersConfig(), nil)

	opts := types.DefaultGenerationOptions()
	tokens, _ := makeTokens(1)
	chars := []types.Character{{ID: "char00"}, {ID: "ghost"}}

	result, err := s.PreRender(context.Background(), &Context{
		Trigger:    TriggerCharactersChange,
		Characters: chars,
		Tokens:     tokens,
		Options:    &opts,
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Rendered)
	assert.Equal(t, 1, result.Skipped)
}

func TestGallery_PreloadsUncachedPortraits(t *testing.T) {
	store := cache.NewStore[string, []byte](cache.StoreConfig{Name: "gallery"}, nil)
	var loads atomic.Int32
	loader := func(ctx context.Context, url string, isLocal bool) ([]byte, error) {
		loads.Add(1)
		if url == "bad" {
			return nil, errors.New("fetch failed")
		}
		return []byte(url), nil
	}
	s := NewGalleryStrategy(store, loader, DefaultGalleryConfig(), nil)

	chars := []types.Character{
		{ID: "c1", ImageURL: "u1"},
		{ID: "c2", ImageURL: "bad"},
		{ID: "c3", ImageURL: "u3"},
		{ID: "c4"}, // no image: skipped
	}
	pctx := &Context{Trigger: TriggerGalleryView, Characters: chars}

	result, err := s.PreRender(context.Background(), pctx)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.Rendered)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, result.Metadata["failed"])

	// Cached portraits are not refetched.
	result, err = s.PreRender(context.Background(), pctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Rendered)
	assert.Equal(t, int32(4), loads.Load(), "only the failed portrait is retried")
}

func TestProjectHover_SecondHoverCancelsFirst(t *testing.T) {
	store := newTokenStore("project-hover")
	encoder := NewEncoder(EncoderConfig{Workers: 2, QueueSize: 32})
	defer encoder.Close()
	s := NewProjectHoverStrategy(store, encoder, DefaultProjectHoverConfig(), nil)

	release := make(chan struct{})
	blocked := &fakeSurface{data: []byte("x"), block: release}
	tokens := []types.Token{{Filename: "slow.png", Surface: blocked}}
	pctx := &Context{Trigger: TriggerProjectHover, ProjectID: "p1", Tokens: tokens}

	done := make(chan *Result, 1)
	go func() {
		result, _ := s.PreRender(context.Background(), pctx)
		done <- result
	}()

	// Wait for the render to be in flight, then supersede it.
	require.Eventually(t, func() bool { return s.InFlight("p1") }, time.Second, time.Millisecond)
	s.Cancel("p1")
	close(release)

	result := <-done
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Rendered)
	assert.False(t, store.Has("slow.png"), "a cancelled render must not write its result")
	assert.False(t, s.InFlight("p1"))
}

func TestProjectHover_CompletesAndClearsInFlight(t *testing.T) {
	store := newTokenStore("project-hover")
	encoder := NewEncoder(EncoderConfig{})
	defer encoder.Close()
	s := NewProjectHoverStrategy(store, encoder, DefaultProjectHoverConfig(), nil)

	tokens, _ := makeTokens(3)
	result, err := s.PreRender(context.Background(), &Context{
		Trigger:   TriggerProjectHover,
		ProjectID: "p1",
		Tokens:    tokens,
	})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Rendered)
	assert.False(t, s.InFlight("p1"))
}
