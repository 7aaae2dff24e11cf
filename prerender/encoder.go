package prerender

import (
	"context"

	"github.com/tokenforge/rendercache/internal/pool"
	"github.com/tokenforge/rendercache/types"
)

// Encoder turns a renderable surface into compressed image bytes. The
// implementation is selected once at startup (EncoderConfig), not
// detected per call.
type Encoder interface {
	Encode(ctx context.Context, surface types.Surface) ([]byte, error)
	Close()
}

// EncoderConfig selects and sizes the encoder.
type EncoderConfig struct {
	// Workers > 0 selects the pooled encoder with that hard concurrency
	// ceiling; 0 selects the inline encoder.
	Workers int `yaml:"workers" json:"workers"`

	// QueueSize bounds pending encodes for the pooled encoder.
	QueueSize int `yaml:"queue_size" json:"queue_size"`
}

// DefaultEncoderConfig returns a pooled encoder sized for a client machine.
func DefaultEncoderConfig() EncoderConfig {
	return EncoderConfig{Workers: 4, QueueSize: 256}
}

// NewEncoder builds the encoder the config selects.
func NewEncoder(config EncoderConfig) Encoder {
	if config.Workers <= 0 {
		return inlineEncoder{}
	}
	return &pooledEncoder{pool: pool.New(pool.Config{
		Workers:   config.Workers,
		QueueSize: config.QueueSize,
	})}
}

// inlineEncoder encodes on the calling goroutine.
type inlineEncoder struct{}

func (inlineEncoder) Encode(ctx context.Context, surface types.Surface) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return surface.Encode(ctx)
}

func (inlineEncoder) Close() {}

// pooledEncoder funnels encodes through a bounded worker pool; callers
// queue beyond the ceiling rather than spawning extra workers.
type pooledEncoder struct {
	pool *pool.EncodePool
}

func (e *pooledEncoder) Encode(ctx context.Context, surface types.Surface) ([]byte, error) {
	var data []byte
	err := e.pool.Submit(ctx, func(ctx context.Context) error {
		var err error
		data, err = surface.Encode(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (e *pooledEncoder) Close() { e.pool.Close() }
