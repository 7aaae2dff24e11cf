package prerender

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncoder_SelectsByCapability(t *testing.T) {
	inline := NewEncoder(EncoderConfig{Workers: 0})
	defer inline.Close()
	assert.IsType(t, inlineEncoder{}, inline)

	pooled := NewEncoder(EncoderConfig{Workers: 2, QueueSize: 8})
	defer pooled.Close()
	assert.IsType(t, &pooledEncoder{}, pooled)
}

func TestEncoders_EncodeAndCancel(t *testing.T) {
	for _, tc := range []struct {
		name   string
		config EncoderConfig
	}{
		{"inline", EncoderConfig{}},
		{"pooled", EncoderConfig{Workers: 2, QueueSize: 8}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			enc := NewEncoder(tc.config)
			defer enc.Close()

			surface := &fakeSurface{data: []byte("png")}
			data, err := enc.Encode(context.Background(), surface)
			require.NoError(t, err)
			assert.Equal(t, []byte("png"), data)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err = enc.Encode(ctx, surface)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}
