package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// archiveBatchSize bounds how many entries move per transaction pair so a
// large backlog cannot hold locks for long.
const archiveBatchSize = 500

// Archiver moves audit entries past the retention window from the live
// trail to the archive. Entries are copied first and deleted only after the
// copy commits; a crash between the two steps leaves duplicates in the
// archive (deduplicated on the next run), never a gap.
type Archiver struct {
	live      *Repository
	archive   *ArchiveRepository
	retention time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

// NewArchiver creates an archiver with the given retention window.
func NewArchiver(live *Repository, archive *ArchiveRepository, retention time.Duration, log zerolog.Logger) *Archiver {
	return &Archiver{
		live:      live,
		archive:   archive,
		retention: retention,
		now:       time.Now,
		log:       log.With().Str("component", "audit_archiver").Logger(),
	}
}

// SetClock overrides the archiver's time source for tests.
func (a *Archiver) SetClock(now func() time.Time) {
	a.now = now
}

// Run moves every entry older than the retention cutoff and returns how many
// were archived.
func (a *Archiver) Run(ctx context.Context) (int, error) {
	now := a.now()
	cutoff := now.Add(-a.retention)
	moved := 0

	for {
		if err := ctx.Err(); err != nil {
			return moved, err
		}

		entries, err := a.live.ListOlderThan(ctx, cutoff, archiveBatchSize)
		if err != nil {
			return moved, fmt.Errorf("failed to collect entries for archival: %w", err)
		}
		if len(entries) == 0 {
			break
		}

		if err := a.archive.InsertBatch(ctx, entries, now); err != nil {
			return moved, fmt.Errorf("failed to archive batch: %w", err)
		}

		ids := make([]string, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
		}
		if err := a.live.DeleteByIDs(ctx, ids); err != nil {
			return moved, fmt.Errorf("failed to remove archived entries from live trail: %w", err)
		}

		moved += len(entries)
	}

	if moved > 0 {
		a.log.Info().
			Int("entries", moved).
			Time("cutoff", cutoff).
			Msg("Audit entries archived")
	}

	return moved, nil
}
