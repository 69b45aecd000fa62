package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/aquilalabs/watchdeck/internal/database"
)

const maintenanceTimeout = 2 * time.Minute

// MaintenanceJob checkpoints the WAL of every database and runs integrity
// checks. Keeps WAL files from growing without bound on long uptimes.
type MaintenanceJob struct {
	databases []*database.DB
	log       zerolog.Logger
}

// NewMaintenanceJob creates a maintenance job over the given databases.
func NewMaintenanceJob(databases []*database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		log:       log.With().Str("job", "db_maintenance").Logger(),
	}
}

// Name implements Job.
func (j *MaintenanceJob) Name() string {
	return "db_maintenance"
}

// Run implements Job.
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), maintenanceTimeout)
	defer cancel()

	for _, db := range j.databases {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Database health check failed")
		}
	}

	return nil
}
