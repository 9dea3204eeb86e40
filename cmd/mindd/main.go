// Command mindd runs the memory daemon: a SQLite-backed memory store
// with an in-process vector index, exposed over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/mindfold/mind/engine"
	"github.com/mindfold/mind/memory"
	"github.com/mindfold/mind/memory/index/chromem"
	"github.com/mindfold/mind/memory/store/sqlite"
	"github.com/mindfold/mind/server"
)

type daemonConfig struct {
	Listen string `koanf:"listen"`
	DBPath string `koanf:"db_path"`

	Embedder struct {
		Kind          string `koanf:"kind"` // mock or onnx
		Dimensions    int    `koanf:"dimensions"`
		ModelPath     string `koanf:"model_path"`
		TokenizerPath string `koanf:"tokenizer_path"`
		CacheEntries  int    `koanf:"cache_entries"`
	} `koanf:"embedder"`

	Memory memory.Config `koanf:"memory"`
}

// loadConfig layers defaults, an optional YAML file, and MINDD_
// environment variables (MINDD_EMBEDDER__KIND=onnx style, double
// underscore for nesting).
func loadConfig(path string) (*daemonConfig, error) {
	cfg := &daemonConfig{}
	cfg.Listen = ":8089"
	cfg.DBPath = "mind.db"
	cfg.Embedder.Kind = "mock"
	cfg.Embedder.Dimensions = 384
	cfg.Embedder.CacheEntries = 4096
	cfg.Memory = *memory.DefaultConfig

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	err := k.Load(env.Provider("MINDD_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "MINDD_")), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatalf("[MINDD] %v", err)
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Memory.Dim = cfg.Embedder.Dimensions

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	base, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("create embedder: %w", err)
	}
	embedder, err := memory.NewCachedEmbedder(base, int64(cfg.Embedder.CacheEntries))
	if err != nil {
		return fmt.Errorf("create embedding cache: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := engine.New(ctx, store, chromem.New(), embedder,
		engine.WithConfig(&cfg.Memory))
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	defer eng.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(eng).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[MINDD] Listening on %s (db=%s, embedder=%s)",
			cfg.Listen, cfg.DBPath, cfg.Embedder.Kind)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("[MINDD] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
