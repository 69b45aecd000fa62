package reliability

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// ObjectUploader streams objects into the offsite store.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body io.Reader) error
}

// ArchiveSource is the database file being shipped offsite. The checkpoint
// flushes pending WAL frames into the main file so the copy is complete.
type ArchiveSource interface {
	Path() string
	WALCheckpoint(mode string) error
}

// ArchiveUploadService ships the audit archive database to the object
// store. The archive file on disk stays the source of truth; the upload is
// an offsite copy.
type ArchiveUploadService struct {
	client  ObjectUploader
	source  ArchiveSource
	dataDir string
	now     func() time.Time
	log     zerolog.Logger
}

// NewArchiveUploadService creates an upload service for the archive
// database.
func NewArchiveUploadService(client ObjectUploader, source ArchiveSource, dataDir string, log zerolog.Logger) *ArchiveUploadService {
	return &ArchiveUploadService{
		client:  client,
		source:  source,
		dataDir: dataDir,
		now:     time.Now,
		log:     log.With().Str("service", "archive_upload").Logger(),
	}
}

// UploadArchive checkpoints the archive database, compresses the file, and
// uploads it under a timestamped key. Without the checkpoint, rows still in
// the WAL would be missing from the copy.
func (s *ArchiveUploadService) UploadArchive(ctx context.Context) error {
	started := s.now()

	if err := s.source.WALCheckpoint("TRUNCATE"); err != nil {
		return fmt.Errorf("failed to checkpoint archive database: %w", err)
	}

	stagingDir := filepath.Join(s.dataDir, "archive-staging")
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	stagedPath := filepath.Join(stagingDir, "audit-archive.db.gz")
	if err := s.compress(s.source.Path(), stagedPath); err != nil {
		return fmt.Errorf("failed to compress archive: %w", err)
	}

	staged, err := os.Open(stagedPath)
	if err != nil {
		return fmt.Errorf("failed to open staged archive: %w", err)
	}
	defer staged.Close()

	key := fmt.Sprintf("audit-archive-%s.db.gz", started.UTC().Format("2006-01-02-150405"))
	if err := s.client.Upload(ctx, key, staged); err != nil {
		return err
	}

	s.log.Info().
		Str("key", key).
		Dur("duration", time.Since(started)).
		Msg("Audit archive uploaded")

	return nil
}

func (s *ArchiveUploadService) compress(srcPath, dstPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	gz := gzip.NewWriter(dst)
	if _, err := io.Copy(gz, src); err != nil {
		return err
	}
	return gz.Close()
}
