package kernel

import (
	"time"

	"github.com/scrypster/memoryanchor/internal/vectorstore"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// toPayload encodes a Memory's non-vector fields into the payload map
// every backend stores alongside the embedding. valid_at/expires_at use
// epoch seconds (internal/temporal's encoding) so bi-temporal filters
// compare uniformly across backends.
func toPayload(m types.Memory) map[string]any {
	p := map[string]any{
		vectorstore.PayloadLayer:      string(m.Layer),
		vectorstore.PayloadCategory:   string(m.Category),
		vectorstore.PayloadConfidence: m.Confidence,
		vectorstore.PayloadCreatedAt:  float64(m.CreatedAt.UTC().Unix()),
		vectorstore.PayloadIsActive:   m.IsActive,
		vectorstore.PayloadSessionID:  m.SessionID,
		vectorstore.PayloadCreatedBy:  m.CreatedBy,
		vectorstore.PayloadRelatedFiles: m.RelatedFiles,
	}
	p["content"] = m.Content
	if m.ValidAt != nil {
		p[vectorstore.PayloadValidAt] = float64(m.ValidAt.UTC().Unix())
	} else {
		p[vectorstore.PayloadValidAt] = nil
	}
	if m.ExpiresAt != nil {
		p[vectorstore.PayloadExpiresAt] = float64(m.ExpiresAt.UTC().Unix())
	} else {
		p[vectorstore.PayloadExpiresAt] = nil
	}
	return p
}

// fromPayload reconstructs a Memory from a stored point.
func fromPayload(pt vectorstore.Point) types.Memory {
	m := types.Memory{ID: pt.ID}
	m.Content, _ = pt.Payload["content"].(string)
	m.Layer = types.Layer(stringOf(pt.Payload[vectorstore.PayloadLayer]))
	m.Category = types.Category(stringOf(pt.Payload[vectorstore.PayloadCategory]))
	m.Confidence = floatOf(pt.Payload[vectorstore.PayloadConfidence])
	m.CreatedAt = timeOf(pt.Payload[vectorstore.PayloadCreatedAt])
	m.ValidAt = timePtrOf(pt.Payload[vectorstore.PayloadValidAt])
	m.ExpiresAt = timePtrOf(pt.Payload[vectorstore.PayloadExpiresAt])
	m.CreatedBy = stringOf(pt.Payload[vectorstore.PayloadCreatedBy])
	m.SessionID = stringOf(pt.Payload[vectorstore.PayloadSessionID])
	m.IsActive, _ = pt.Payload[vectorstore.PayloadIsActive].(bool)
	if files, ok := pt.Payload[vectorstore.PayloadRelatedFiles].([]string); ok {
		m.RelatedFiles = files
	} else if raw, ok := pt.Payload[vectorstore.PayloadRelatedFiles].([]any); ok {
		for _, f := range raw {
			if s, ok := f.(string); ok {
				m.RelatedFiles = append(m.RelatedFiles, s)
			}
		}
	}
	return m
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

func floatOf(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	}
	return 0
}

func timeOf(v any) time.Time {
	f := floatOf(v)
	if f == 0 {
		return time.Time{}
	}
	return time.Unix(int64(f), 0).UTC()
}

func timePtrOf(v any) *time.Time {
	if v == nil {
		return nil
	}
	t := timeOf(v)
	return &t
}
