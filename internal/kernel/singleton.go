package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/scrypster/memoryanchor/internal/config"
	"github.com/scrypster/memoryanchor/internal/embedding"
	"github.com/scrypster/memoryanchor/internal/metastore"
	"github.com/scrypster/memoryanchor/internal/project"
	"github.com/scrypster/memoryanchor/internal/safety"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/internal/vectorstore/chromemstore"
	"github.com/scrypster/memoryanchor/internal/vectorstore/pgstore"
)

var (
	instance atomic.Pointer[Kernel]
	initMu   sync.Mutex
)

// GetKernel returns the process-wide Kernel, constructing it on first
// call. Construction runs at most once even under concurrent first
// calls: the fast path reads the atomic pointer; on a miss, callers
// serialize on initMu and re-check before building. A construction
// error is never cached — the pointer stays nil and the next caller
// retries from scratch.
func GetKernel(ctx context.Context) (*Kernel, error) {
	if k := instance.Load(); k != nil {
		return k, nil
	}

	initMu.Lock()
	defer initMu.Unlock()

	if k := instance.Load(); k != nil {
		return k, nil
	}

	k, err := buildKernel(ctx)
	if err != nil {
		return nil, err
	}
	instance.Store(k)
	return k, nil
}

func buildKernel(ctx context.Context) (*Kernel, error) {
	cfg := config.Load()

	meta, err := metastore.Open(cfg.MetadataDSN)
	if err != nil {
		return nil, fmt.Errorf("kernel: open metadata store: %w", err)
	}

	vectors, err := buildVectorStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("kernel: build vector store: %w", err)
	}

	resolver, err := project.New(cfg.ProjectCacheSize)
	if err != nil {
		return nil, fmt.Errorf("kernel: build project resolver: %w", err)
	}

	safetyCfg := safety.DefaultConfig()
	safetyCfg.Enabled = cfg.SafetyEnabled
	safetyCfg.MaxChars = cfg.SafetyMaxChars
	safetyFilter := safety.New(safetyCfg)

	embedder := embedding.NewRateLimited(embedding.NewHashEmbedder(0), cfg.EmbedderRatePerSec, cfg.EmbedderBurst)

	k, err := New(ctx, vectors, meta, embedder, safetyFilter, resolver)
	if err != nil {
		return nil, err
	}
	if err := k.RecoverOnStartup(ctx); err != nil {
		return nil, fmt.Errorf("kernel: recovery scan: %w", err)
	}
	return k, nil
}

func buildVectorStore(cfg config.Config) (vectorstore.VectorStore, error) {
	if cfg.VectorMode == "server" {
		return pgstore.New(cfg.VectorURL)
	}
	return chromemstore.New(cfg.VectorPath)
}

// Reset drops the singleton so the next GetKernel call rebuilds it.
// Reserved for test builds: production code must never call this,
// since it does not wait for outstanding operations to drain.
func Reset() {
	instance.Store(nil)
}
