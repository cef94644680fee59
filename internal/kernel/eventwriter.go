package kernel

import (
	"context"

	"github.com/scrypster/memoryanchor/internal/checklist"
	"github.com/scrypster/memoryanchor/internal/eventlog"
	"github.com/scrypster/memoryanchor/internal/project"
	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// projectWriter adapts the Kernel to eventlog.Writer for a single
// project, so C12 reuses the Kernel's own commit path rather than
// talking to the Vector Store directly.
type projectWriter struct {
	k         *Kernel
	projectID string
}

func (w *projectWriter) WriteEvent(ctx context.Context, m types.Memory) error {
	effCfg := w.k.resolver.Resolve(w.projectID)
	vec, err := w.k.embedder.Embed(ctx, m.Content)
	if err != nil {
		return err
	}
	return w.k.commitVectorOnly(ctx, w.Collection(), effCfg.VectorDim, m, vec)
}

func (w *projectWriter) UpdatePayload(ctx context.Context, collection, id string, partial map[string]any) error {
	return w.k.vectors.UpdatePayload(ctx, collection, id, partial)
}

func (w *projectWriter) Search(ctx context.Context, collection string, query []float32, k int, filter vectorstore.Filter) ([]vectorstore.SearchHit, error) {
	return w.k.vectors.Search(ctx, collection, query, k, filter)
}

func (w *projectWriter) Embed(ctx context.Context, text string) ([]float32, error) {
	return w.k.embedder.Embed(ctx, text)
}

func (w *projectWriter) Collection() string { return project.CollectionName(w.projectID) }

// EventLog returns the C12 Event Log scoped to projectID, wired onto
// this Kernel's write/search path.
func (k *Kernel) EventLog(projectID string) *eventlog.Log {
	return eventlog.New(&projectWriter{k: k, projectID: projectID})
}

// Checklist returns the C13 Checklist Engine, backed directly by the
// Metadata Store (it already satisfies checklist.Store).
func (k *Kernel) Checklist() *checklist.Engine {
	return checklist.New(k.meta)
}
