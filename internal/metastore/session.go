package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/scrypster/memoryanchor/internal/kernelerr"
	"github.com/scrypster/memoryanchor/pkg/types"
)

// ArchiveSession upserts a session's final state into session_archive.
func (s *Store) ArchiveSession(ctx context.Context, st *types.SessionState) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	files := make([]string, 0, len(st.SourceFiles))
	for f := range st.SourceFiles {
		files = append(files, f)
	}
	sort.Strings(files)
	filesJSON, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("metastore: marshal files_touched: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_archive (session_id, started_at, ended_at, files_touched, memory_ops, file_mods, summary)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET
			ended_at = excluded.ended_at, files_touched = excluded.files_touched,
			memory_ops = excluded.memory_ops, file_mods = excluded.file_mods, summary = excluded.summary
	`,
		st.SessionID, st.StartedAt.UTC().Format(time.RFC3339Nano), formatTimePtr(st.EndedAt),
		string(filesJSON), st.MemoryOpsCount, st.FileModsCount, "",
	)
	if err != nil {
		return fmt.Errorf("metastore: archive session: %w", err)
	}
	return nil
}

// GetSession fetches an archived session by id.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*types.SessionState, error) {
	var (
		st                   types.SessionState
		startedAt            string
		endedAt              sql.NullString
		filesJSON            string
		summary              string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, started_at, ended_at, files_touched, memory_ops, file_mods, summary
		FROM session_archive WHERE session_id = ?
	`, sessionID).Scan(&st.SessionID, &startedAt, &endedAt, &filesJSON, &st.MemoryOpsCount, &st.FileModsCount, &summary)
	if err == sql.ErrNoRows {
		return nil, kernelerr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("metastore: get session: %w", err)
	}

	var files []string
	if err := json.Unmarshal([]byte(filesJSON), &files); err != nil {
		return nil, fmt.Errorf("metastore: decode files_touched: %w", err)
	}
	st.SourceFiles = make(map[string]struct{}, len(files))
	for _, f := range files {
		st.SourceFiles[f] = struct{}{}
	}
	st.StartedAt = mustParseTime(startedAt)
	st.EndedAt = parseTimePtr(endedAt)
	return &st, nil
}
