//go:build onnx

package main

import (
	"fmt"
	"log"

	"github.com/mindfold/mind/memory"
	"github.com/mindfold/mind/memory/embedder/mock"
	"github.com/mindfold/mind/memory/embedder/onnx"
)

// newEmbedder builds the configured embedder, with local ONNX inference
// available.
func newEmbedder(cfg *daemonConfig) (memory.Embedder, error) {
	switch cfg.Embedder.Kind {
	case "", "mock":
		log.Printf("[MINDD] Using mock embedder (%d dims)", cfg.Embedder.Dimensions)
		return mock.NewWithDimensions(cfg.Embedder.Dimensions), nil
	case "onnx":
		return onnx.New(onnx.Config{
			ModelPath:     cfg.Embedder.ModelPath,
			TokenizerPath: cfg.Embedder.TokenizerPath,
			Dimensions:    cfg.Embedder.Dimensions,
		})
	default:
		return nil, fmt.Errorf("unknown embedder kind %q", cfg.Embedder.Kind)
	}
}
