package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/infrastructure/persistence/sqlite/model"
	"ticketpilot/internal/ports"
)

type RetryRepository struct {
	db *gorm.DB
}

var _ ports.RetryRepository = (*RetryRepository)(nil)

func NewRetryRepository(db *gorm.DB) *RetryRepository {
	return &RetryRepository{db: db}
}

func (r *RetryRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	tx := ports.TxFromContext(ctx)
	if tx == nil {
		return r.db.WithContext(ctx), nil
	}

	gormTx, ok := tx.(*gorm.DB)
	if !ok || gormTx == nil {
		return nil, fmt.Errorf("invalid tx in context: %T", tx)
	}
	return gormTx.WithContext(ctx), nil
}

func (r *RetryRepository) GetOpen(ctx context.Context, ticketID uint64, op domainticket.Operation) (ports.RetryAttempt, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.RetryAttempt{}, false, err
	}

	var row model.RetryAttempt
	if err := db.
		Where("ticket_id = ? AND operation = ? AND status IN ?",
			ticketID, op.String(),
			[]string{string(ports.RetryStatusPending), string(ports.RetryStatusRetrying)}).
		Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.RetryAttempt{}, false, nil
		}
		return ports.RetryAttempt{}, false, errs.Wrap(err, "query open retry attempt")
	}

	attempt, err := mapRetryAttempt(row)
	if err != nil {
		return ports.RetryAttempt{}, false, err
	}
	return attempt, true, nil
}

func (r *RetryRepository) Create(ctx context.Context, attempt ports.RetryAttempt) (ports.RetryAttempt, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.RetryAttempt{}, err
	}

	now := time.Now().UTC()
	row := model.RetryAttempt{
		TicketID:      attempt.TicketID,
		Operation:     attempt.Operation.String(),
		AttemptNumber: attempt.AttemptNumber,
		MaxAttempts:   attempt.MaxAttempts,
		Status:        string(attempt.Status),
		DelaySeconds:  attempt.DelaySeconds,
		NextAttemptAt: attempt.NextAttemptAt,
		ErrorMessage:  attempt.ErrorMessage,
		Context:       attempt.Context,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.RetryAttempt{}, errs.Wrap(err, "insert retry attempt")
	}
	return mapRetryAttempt(row)
}

func (r *RetryRepository) Update(ctx context.Context, attempt ports.RetryAttempt) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"attempt_number": attempt.AttemptNumber,
		"status":         string(attempt.Status),
		"error_message":  attempt.ErrorMessage,
		"context":        attempt.Context,
		"updated_at":     time.Now().UTC(),
	}
	if attempt.NextAttemptAt != nil {
		updates["next_attempt_at"] = *attempt.NextAttemptAt
	} else {
		updates["next_attempt_at"] = nil
	}

	if err := db.Model(&model.RetryAttempt{}).
		Where("retry_attempt_id = ?", attempt.ID).
		Updates(updates).Error; err != nil {
		return errs.Wrap(err, "update retry attempt")
	}
	return nil
}

func (r *RetryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]ports.RetryAttempt, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.RetryAttempt{}).
		Where("status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
			string(ports.RetryStatusRetrying), now).
		Order("next_attempt_at asc")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []model.RetryAttempt
	if err := query.Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query due retry attempts")
	}
	return mapRetryAttempts(rows)
}

func (r *RetryRepository) ListByTicket(ctx context.Context, ticketID uint64) ([]ports.RetryAttempt, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.RetryAttempt
	if err := db.
		Where("ticket_id = ?", ticketID).
		Order("retry_attempt_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query retry attempts by ticket")
	}
	return mapRetryAttempts(rows)
}

func mapRetryAttempts(rows []model.RetryAttempt) ([]ports.RetryAttempt, error) {
	items := make([]ports.RetryAttempt, 0, len(rows))
	for _, row := range rows {
		item, err := mapRetryAttempt(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func mapRetryAttempt(row model.RetryAttempt) (ports.RetryAttempt, error) {
	op, err := domainticket.ParseOperation(row.Operation)
	if err != nil {
		return ports.RetryAttempt{}, errs.Wrap(err, "parse persisted operation")
	}

	return ports.RetryAttempt{
		ID:            row.RetryAttemptID,
		TicketID:      row.TicketID,
		Operation:     op,
		AttemptNumber: row.AttemptNumber,
		MaxAttempts:   row.MaxAttempts,
		Status:        ports.RetryStatus(row.Status),
		DelaySeconds:  row.DelaySeconds,
		NextAttemptAt: row.NextAttemptAt,
		ErrorMessage:  row.ErrorMessage,
		Context:       row.Context,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}, nil
}
