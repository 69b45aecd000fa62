package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const archiveTimeout = 10 * time.Minute

// AuditArchiver moves expired audit entries to the cold store.
type AuditArchiver interface {
	Run(ctx context.Context) (int, error)
}

// ArchiveUploader ships the archive database off the host. Optional.
type ArchiveUploader interface {
	UploadArchive(ctx context.Context) error
}

// ArchiveJob runs audit archival and, when configured, uploads the archive
// database afterwards.
type ArchiveJob struct {
	archiver AuditArchiver
	uploader ArchiveUploader
	log      zerolog.Logger
}

// NewArchiveJob creates an archive job. uploader may be nil.
func NewArchiveJob(archiver AuditArchiver, uploader ArchiveUploader, log zerolog.Logger) *ArchiveJob {
	return &ArchiveJob{
		archiver: archiver,
		uploader: uploader,
		log:      log.With().Str("job", "audit_archive").Logger(),
	}
}

// Name implements Job.
func (j *ArchiveJob) Name() string {
	return "audit_archive"
}

// Run implements Job.
func (j *ArchiveJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()

	moved, err := j.archiver.Run(ctx)
	if err != nil {
		return err
	}

	if j.uploader != nil && moved > 0 {
		if err := j.uploader.UploadArchive(ctx); err != nil {
			// Upload failure is not fatal; the archive stays on disk
			// and the next run retries.
			j.log.Error().Err(err).Msg("Archive upload failed")
		}
	}

	return nil
}
