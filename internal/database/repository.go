package database

import (
	"github.com/trackwatch/trackwatch/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	token    *models.TokenModel
	job      *models.JobModel
	alert    *models.AlertModel
	baseline *models.BaselineModel
	driver   *models.DriverModel
	outbox   *models.OutboxModel
	history  *models.HistoryModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, logger *zap.Logger) *Repository {
	return &Repository{
		token:    models.NewToken(db, logger),
		job:      models.NewJob(db, logger),
		alert:    models.NewAlert(db, logger),
		baseline: models.NewBaseline(db, logger),
		driver:   models.NewDriver(db, logger),
		outbox:   models.NewOutbox(db, logger),
		history:  models.NewHistory(db, logger),
	}
}

// Token returns the API token model repository.
func (r *Repository) Token() *models.TokenModel {
	return r.token
}

// Job returns the crawl job model repository.
func (r *Repository) Job() *models.JobModel {
	return r.job
}

// Alert returns the alert subscription model repository.
func (r *Repository) Alert() *models.AlertModel {
	return r.alert
}

// Baseline returns the map position baseline model repository.
func (r *Repository) Baseline() *models.BaselineModel {
	return r.baseline
}

// Driver returns the driver notification model repository.
func (r *Repository) Driver() *models.DriverModel {
	return r.driver
}

// Outbox returns the daily outbox model repository.
func (r *Repository) Outbox() *models.OutboxModel {
	return r.outbox
}

// History returns the notification history model repository.
func (r *Repository) History() *models.HistoryModel {
	return r.history
}
