package postgres

import (
	"context"

	"skycast/internal/domain"
	"skycast/pkg/errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type AlertRepository struct {
	db *sqlx.DB
}

func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

const alertColumns = `
	id, device_id, user_id, type, title, message, email_sent, read, created_at`

func (r *AlertRepository) Create(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (
			id, device_id, user_id, type, title, message, email_sent, read, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.DeviceID, alert.UserID, alert.Type, alert.Title,
		alert.Message, alert.EmailSent, alert.Read, alert.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to store alert")
	}
	return nil
}

func (r *AlertRepository) FindByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.Alert, error) {
	var alerts []*domain.Alert
	query := `SELECT` + alertColumns + `
		FROM alerts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	err := r.db.SelectContext(ctx, &alerts, query, userID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch alerts")
	}
	return alerts, nil
}

func (r *AlertRepository) MarkEmailSent(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE alerts SET email_sent = TRUE WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return errors.Wrap(err, "failed to mark alert email sent")
}

// DeleteRead removes the user's already-read alerts and returns the count.
func (r *AlertRepository) DeleteRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	query := `DELETE FROM alerts WHERE user_id = $1 AND read = TRUE`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear read alerts")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear read alerts")
	}
	return n, nil
}

// MarkRead flips the read flag, scoped to the owning user.
func (r *AlertRepository) MarkRead(ctx context.Context, id, userID uuid.UUID) error {
	query := `UPDATE alerts SET read = TRUE WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return errors.Wrap(err, "failed to mark alert read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrAlertNotFound
	}
	return nil
}
