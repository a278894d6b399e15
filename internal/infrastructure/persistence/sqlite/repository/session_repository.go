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

type SessionRepository struct {
	db *gorm.DB
}

var _ ports.SessionRepository = (*SessionRepository)(nil)

func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

func (r *SessionRepository) Get(ctx context.Context, id uint64) (ports.Session, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Session{}, err
	}

	var row model.BotSession
	if err := db.Where("session_id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Session{}, ports.ErrSessionNotFound
		}
		return ports.Session{}, errs.Wrap(err, "query session")
	}
	return mapSession(row)
}

func (r *SessionRepository) Create(ctx context.Context, s ports.Session) (ports.Session, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Session{}, err
	}

	now := time.Now().UTC()
	row := model.BotSession{
		Customer:       s.Customer,
		PurchasedHours: s.PurchasedHours,
		ConsumedHours:  s.ConsumedHours,
		RemainingHours: s.PurchasedHours - s.ConsumedHours,
		Status:         s.Status.String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Session{}, errs.Wrap(err, "insert session")
	}
	return mapSession(row)
}

func (r *SessionRepository) Save(ctx context.Context, s ports.Session) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"purchased_hours":     s.PurchasedHours,
		"consumed_hours":      s.ConsumedHours,
		"remaining_hours":     s.PurchasedHours - s.ConsumedHours,
		"status":              s.Status.String(),
		"first_warning_sent":  s.FirstWarningSent,
		"second_warning_sent": s.SecondWarningSent,
		"expiry_notified":     s.ExpiryNotified,
		"processed_tickets":   s.ProcessedTickets,
		"successful_tickets":  s.SuccessfulTickets,
		"failed_tickets":      s.FailedTickets,
		"updated_at":          time.Now().UTC(),
	}
	if s.LastActivity != nil {
		updates["last_activity_at"] = *s.LastActivity
	}

	result := db.Model(&model.BotSession{}).Where("session_id = ?", s.ID).Updates(updates)
	if result.Error != nil {
		return errs.Wrap(result.Error, "update session")
	}
	if result.RowsAffected == 0 {
		return ports.ErrSessionNotFound
	}
	return nil
}

func (r *SessionRepository) ListByStatus(ctx context.Context, status domainticket.SessionStatus) ([]ports.Session, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.BotSession
	if err := db.
		Where("status = ?", status.String()).
		Order("session_id asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query sessions by status")
	}
	return mapSessions(rows)
}

func (r *SessionRepository) ListActiveWithBudgetAtMost(ctx context.Context, maxRemaining float64) ([]ports.Session, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.BotSession
	if err := db.
		Where("status = ? AND remaining_hours <= ?", domainticket.SessionActive.String(), maxRemaining).
		Order("remaining_hours asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query sessions by remaining budget")
	}
	return mapSessions(rows)
}

func mapSessions(rows []model.BotSession) ([]ports.Session, error) {
	items := make([]ports.Session, 0, len(rows))
	for _, row := range rows {
		item, err := mapSession(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func mapSession(row model.BotSession) (ports.Session, error) {
	status, err := domainticket.ParseSessionStatus(row.Status)
	if err != nil {
		return ports.Session{}, errs.Wrap(err, "parse persisted session status")
	}

	return ports.Session{
		ID:                row.SessionID,
		Customer:          row.Customer,
		PurchasedHours:    row.PurchasedHours,
		ConsumedHours:     row.ConsumedHours,
		RemainingHours:    row.RemainingHours,
		Status:            status,
		FirstWarningSent:  row.FirstWarningSent,
		SecondWarningSent: row.SecondWarningSent,
		ExpiryNotified:    row.ExpiryNotified,
		ProcessedTickets:  row.ProcessedTickets,
		SuccessfulTickets: row.SuccessfulTickets,
		FailedTickets:     row.FailedTickets,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
		LastActivity:      row.LastActivity,
	}, nil
}
