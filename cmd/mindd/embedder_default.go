//go:build !onnx

package main

import (
	"fmt"
	"log"

	"github.com/mindfold/mind/memory"
	"github.com/mindfold/mind/memory/embedder/mock"
)

// newEmbedder builds the configured embedder. This build carries no ONNX
// runtime; requesting onnx is a configuration error.
func newEmbedder(cfg *daemonConfig) (memory.Embedder, error) {
	switch cfg.Embedder.Kind {
	case "", "mock":
		log.Printf("[MINDD] Using mock embedder (%d dims)", cfg.Embedder.Dimensions)
		return mock.NewWithDimensions(cfg.Embedder.Dimensions), nil
	case "onnx":
		return nil, fmt.Errorf("embedder kind %q requires building with -tags onnx", cfg.Embedder.Kind)
	default:
		return nil, fmt.Errorf("unknown embedder kind %q", cfg.Embedder.Kind)
	}
}
