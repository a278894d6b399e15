package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	domainticket "ticketpilot/internal/domain/ticket"
	"ticketpilot/internal/errs"
	"ticketpilot/internal/infrastructure/persistence/sqlite/model"
	"ticketpilot/internal/ports"
)

type TicketRepository struct {
	db *gorm.DB
}

var _ ports.TicketRepository = (*TicketRepository)(nil)

func NewTicketRepository(db *gorm.DB) *TicketRepository {
	return &TicketRepository{db: db}
}

func (r *TicketRepository) dbFromContext(ctx context.Context) (*gorm.DB, error) {
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

func (r *TicketRepository) GetByKey(ctx context.Context, trackerKey string) (ports.Ticket, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Ticket{}, err
	}

	var row model.Ticket
	if err := db.Where("tracker_key = ?", trackerKey).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Ticket{}, ports.ErrTicketNotFound
		}
		return ports.Ticket{}, errs.Wrap(err, "query ticket by key")
	}
	return mapTicket(row)
}

func (r *TicketRepository) GetByID(ctx context.Context, id uint64) (ports.Ticket, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Ticket{}, err
	}

	var row model.Ticket
	if err := db.Where("ticket_id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Ticket{}, ports.ErrTicketNotFound
		}
		return ports.Ticket{}, errs.Wrap(err, "query ticket by id")
	}
	return mapTicket(row)
}

func (r *TicketRepository) Create(ctx context.Context, t ports.Ticket) (ports.Ticket, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Ticket{}, err
	}

	labels, err := json.Marshal(t.Labels)
	if err != nil {
		return ports.Ticket{}, errs.Wrap(err, "encode labels")
	}

	now := time.Now().UTC()
	row := model.Ticket{
		TrackerKey:    t.TrackerKey,
		Summary:       t.Summary,
		Description:   t.Description,
		Status:        t.Status.String(),
		Priority:      t.Priority,
		Assignee:      t.Assignee,
		Reporter:      t.Reporter,
		Labels:        string(labels),
		RepositoryURL: t.RepositoryURL,
		RetryCount:    t.RetryCount,
		SessionID:     t.SessionID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := db.Create(&row).Error; err != nil {
		return ports.Ticket{}, errs.Wrap(err, "insert ticket")
	}
	return mapTicket(row)
}

func (r *TicketRepository) List(ctx context.Context, filter ports.TicketFilter) ([]ports.Ticket, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Model(&model.Ticket{})
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, s := range filter.Statuses {
			statuses = append(statuses, s.String())
		}
		query = query.Where("status IN ?", statuses)
	}
	if filter.SessionID != nil {
		query = query.Where("session_id = ?", *filter.SessionID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []model.Ticket
	if err := query.Order("status asc, updated_at asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query tickets")
	}

	items := make([]ports.Ticket, 0, len(rows))
	for _, row := range rows {
		item, err := mapTicket(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *TicketRepository) UpdateStatus(ctx context.Context, id uint64, status domainticket.Status, errorMessage *string) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	// error_message always reflects the latest transition; a nil message
	// clears any stale failure text.
	updates := map[string]any{
		"status":            status.String(),
		"error_message":     errorMessage,
		"updated_at":        now,
		"last_processed_at": now,
	}

	if err := db.Model(&model.Ticket{}).
		Where("ticket_id = ?", id).
		Updates(updates).Error; err != nil {
		return errs.Wrap(err, "update ticket status")
	}
	return nil
}

func (r *TicketRepository) AssignSession(ctx context.Context, id uint64, sessionID uint64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Ticket{}).
		Where("ticket_id = ?", id).
		Updates(map[string]any{
			"session_id": sessionID,
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return errs.Wrap(err, "assign ticket session")
	}
	return nil
}

func (r *TicketRepository) IncrementRetryCount(ctx context.Context, id uint64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.Ticket{}).
		Where("ticket_id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		}).Error; err != nil {
		return errs.Wrap(err, "increment retry count")
	}
	return nil
}

func (r *TicketRepository) SetHoursConsumed(ctx context.Context, id uint64, hours float64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&model.Ticket{}).
		Where("ticket_id = ? AND hours_consumed IS NULL", id).
		Updates(map[string]any{
			"hours_consumed": hours,
			"updated_at":     time.Now().UTC(),
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "set hours consumed")
	}
	if result.RowsAffected == 0 {
		return ports.ErrHoursAlreadySet
	}
	return nil
}

func (r *TicketRepository) SaveSolution(ctx context.Context, ticketID uint64, s ports.Solution) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(s)
	if err != nil {
		return errs.Wrap(err, "encode solution")
	}

	result := db.Model(&model.Ticket{}).
		Where("ticket_id = ?", ticketID).
		Updates(map[string]any{
			"solution":   string(payload),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return errs.Wrap(result.Error, "save solution")
	}
	if result.RowsAffected == 0 {
		return ports.ErrTicketNotFound
	}
	return nil
}

func (r *TicketRepository) GetSolution(ctx context.Context, ticketID uint64) (ports.Solution, bool, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return ports.Solution{}, false, err
	}

	var row model.Ticket
	if err := db.Select("solution").Where("ticket_id = ?", ticketID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.Solution{}, false, ports.ErrTicketNotFound
		}
		return ports.Solution{}, false, errs.Wrap(err, "query solution")
	}
	if row.Solution == nil || *row.Solution == "" {
		return ports.Solution{}, false, nil
	}

	var s ports.Solution
	if err := json.Unmarshal([]byte(*row.Solution), &s); err != nil {
		return ports.Solution{}, false, errs.Wrap(err, "decode solution")
	}
	return s, true, nil
}

// Delete removes the ticket with its owned todos and executions. Ownership
// is explicit: children go in the same transaction, no cascade config.
func (r *TicketRepository) Delete(ctx context.Context, id uint64) error {
	if ports.TxFromContext(ctx) != nil {
		db, err := r.dbFromContext(ctx)
		if err != nil {
			return err
		}

		if err := db.Where("ticket_id = ?", id).Delete(&model.TicketTodo{}).Error; err != nil {
			return errs.Wrap(err, "delete ticket todos")
		}
		if err := db.Where("ticket_id = ?", id).Delete(&model.Execution{}).Error; err != nil {
			return errs.Wrap(err, "delete ticket executions")
		}
		if err := db.Where("ticket_id = ?", id).Delete(&model.Ticket{}).Error; err != nil {
			return errs.Wrap(err, "delete ticket")
		}
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.Delete(ports.WithTxContext(ctx, tx), id)
	})
}

func (r *TicketRepository) ReplaceTodos(ctx context.Context, ticketID uint64, todos []ports.Todo) ([]ports.Todo, error) {
	if ports.TxFromContext(ctx) != nil {
		db, err := r.dbFromContext(ctx)
		if err != nil {
			return nil, err
		}

		if err := db.Where("ticket_id = ?", ticketID).Delete(&model.TicketTodo{}).Error; err != nil {
			return nil, errs.Wrap(err, "delete old todos")
		}

		out := make([]ports.Todo, 0, len(todos))
		for _, todo := range todos {
			deps, err := json.Marshal(todo.DependsOn)
			if err != nil {
				return nil, errs.Wrap(err, "encode todo dependencies")
			}

			row := model.TicketTodo{
				TicketID:           ticketID,
				Title:              todo.Title,
				Description:        todo.Description,
				Priority:           domainticket.ClampTodoPriority(todo.Priority),
				Category:           todo.Category,
				Status:             todo.Status.String(),
				OrderIndex:         todo.OrderIndex,
				EstimatedHours:     todo.EstimatedHours,
				ActualHours:        todo.ActualHours,
				DependsOn:          string(deps),
				AcceptanceCriteria: todo.AcceptanceCriteria,
			}
			if err := db.Create(&row).Error; err != nil {
				return nil, errs.Wrap(err, "insert todo")
			}

			mapped, err := mapTodo(row)
			if err != nil {
				return nil, err
			}
			out = append(out, mapped)
		}
		return out, nil
	}

	var created []ports.Todo
	if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, err := r.ReplaceTodos(ports.WithTxContext(ctx, tx), ticketID, todos)
		if err != nil {
			return err
		}
		created = rows
		return nil
	}); err != nil {
		return nil, err
	}
	return created, nil
}

func (r *TicketRepository) ListTodos(ctx context.Context, ticketID uint64) ([]ports.Todo, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.TicketTodo
	if err := db.
		Where("ticket_id = ?", ticketID).
		Order("order_index asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query todos")
	}

	items := make([]ports.Todo, 0, len(rows))
	for _, row := range rows {
		item, err := mapTodo(row)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *TicketRepository) UpdateTodoStatus(ctx context.Context, todoID uint64, status domainticket.TodoStatus, actualHours float64) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	if err := db.Model(&model.TicketTodo{}).
		Where("todo_id = ?", todoID).
		Updates(map[string]any{
			"status":       status.String(),
			"actual_hours": actualHours,
		}).Error; err != nil {
		return errs.Wrap(err, "update todo status")
	}
	return nil
}

func (r *TicketRepository) AppendExecution(ctx context.Context, exec ports.Execution) error {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return err
	}

	row := model.Execution{
		ExecutionID: exec.ID,
		TicketID:    exec.TicketID,
		ActionKind:  exec.ActionKind,
		Target:      exec.Target,
		Before:      exec.Before,
		After:       exec.After,
		ExitCode:    exec.ExitCode,
		Status:      exec.Status,
		DurationMS:  exec.Duration.Milliseconds(),
		Simulated:   exec.Simulated,
		CreatedAt:   exec.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if err := db.Create(&row).Error; err != nil {
		return errs.Wrap(err, "insert execution")
	}
	return nil
}

func (r *TicketRepository) ListExecutions(ctx context.Context, ticketID uint64) ([]ports.Execution, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rows []model.Execution
	if err := db.
		Where("ticket_id = ?", ticketID).
		Order("created_at asc").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query executions")
	}

	items := make([]ports.Execution, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.Execution{
			ID:         row.ExecutionID,
			TicketID:   row.TicketID,
			ActionKind: row.ActionKind,
			Target:     row.Target,
			Before:     row.Before,
			After:      row.After,
			ExitCode:   row.ExitCode,
			Status:     row.Status,
			Duration:   time.Duration(row.DurationMS) * time.Millisecond,
			Simulated:  row.Simulated,
			CreatedAt:  row.CreatedAt,
		})
	}
	return items, nil
}

func (r *TicketRepository) CountByStatus(ctx context.Context) (map[domainticket.Status]int64, error) {
	db, err := r.dbFromContext(ctx)
	if err != nil {
		return nil, err
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var rows []statusCount
	if err := db.Model(&model.Ticket{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "count tickets by status")
	}

	out := make(map[domainticket.Status]int64, len(rows))
	for _, row := range rows {
		status, err := domainticket.ParseStatus(row.Status)
		if err != nil {
			return nil, errs.Wrap(err, "parse persisted status")
		}
		out[status] = row.Count
	}
	return out, nil
}

func mapTicket(row model.Ticket) (ports.Ticket, error) {
	status, err := domainticket.ParseStatus(row.Status)
	if err != nil {
		return ports.Ticket{}, errs.Wrap(err, "parse persisted status")
	}

	var labels []string
	if row.Labels != "" {
		if err := json.Unmarshal([]byte(row.Labels), &labels); err != nil {
			return ports.Ticket{}, errs.Wrap(err, "decode labels")
		}
	}

	return ports.Ticket{
		ID:            row.TicketID,
		TrackerKey:    row.TrackerKey,
		Summary:       row.Summary,
		Description:   row.Description,
		Status:        status,
		Priority:      row.Priority,
		Assignee:      row.Assignee,
		Reporter:      row.Reporter,
		Labels:        labels,
		RepositoryURL: row.RepositoryURL,
		RetryCount:    row.RetryCount,
		HoursConsumed: row.HoursConsumed,
		ErrorMessage:  row.ErrorMessage,
		SessionID:     row.SessionID,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		LastProcessed: row.LastProcessed,
	}, nil
}

func mapTodo(row model.TicketTodo) (ports.Todo, error) {
	status, err := domainticket.ParseTodoStatus(row.Status)
	if err != nil {
		return ports.Todo{}, errs.Wrap(err, "parse persisted todo status")
	}

	var deps []uint64
	if row.DependsOn != "" {
		if err := json.Unmarshal([]byte(row.DependsOn), &deps); err != nil {
			return ports.Todo{}, errs.Wrap(err, "decode todo dependencies")
		}
	}

	return ports.Todo{
		ID:                 row.TodoID,
		TicketID:           row.TicketID,
		Title:              row.Title,
		Description:        row.Description,
		Priority:           row.Priority,
		Category:           row.Category,
		Status:             status,
		OrderIndex:         row.OrderIndex,
		EstimatedHours:     row.EstimatedHours,
		ActualHours:        row.ActualHours,
		DependsOn:          deps,
		AcceptanceCriteria: row.AcceptanceCriteria,
	}, nil
}
