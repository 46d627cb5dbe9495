package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jinzhu/now"

	"fulfillment-sync/internal/domain"
	"fulfillment-sync/internal/status"
)

//go:embed schema.sql
var schema string

type OrdersRepositoryInterface interface {
	FetchOrders(ctx context.Context, c domain.Collection, req domain.PageRequest) (domain.Page, error)
	FetchStats(ctx context.Context, req domain.PageRequest) (domain.Stats, error)

	// Все действия идут через SELECT ... FOR UPDATE: второй из двух
	// одновременных запросов видит уже изменённый статус и получает конфликт.
	Take(ctx context.Context, req domain.ActionRequest) error
	Release(ctx context.Context, req domain.ActionRequest) error
	AdvanceStatus(ctx context.Context, req domain.ActionRequest) error
	Cancel(ctx context.Context, req domain.ActionRequest) error
}

type OrdersRepository struct {
	db *sql.DB
}

func NewOrdersRepository(db *sql.DB) OrdersRepositoryInterface {
	return &OrdersRepository{db: db}
}

// EnsureSchema creates the tables if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

const orderColumns = `id, number, status, assigned_to_id, warehouse_id, district_id, priority, created_at, updated_at`

// where builds the WHERE clause for a collection under filters. Role stages
// are left to the client-side filter.
func where(c domain.Collection, req domain.PageRequest) (string, []any) {
	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	switch c {
	case domain.CollectionMyOrders:
		conds = append(conds, "assigned_to_id = "+arg(req.ActorID))
	case domain.CollectionAvailableOrders:
		conds = append(conds, "assigned_to_id IS NULL", "status NOT IN ('DELIVERED','CANCELLED')")
	}

	f := req.Filters
	if f.WarehouseID != "" {
		conds = append(conds, "warehouse_id = "+arg(f.WarehouseID))
	}
	if f.DistrictID != "" {
		conds = append(conds, "district_id = "+arg(f.DistrictID))
	}
	if len(f.Statuses) > 0 {
		ph := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			ph = append(ph, arg(string(s)))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= "+arg(now.With(f.From).BeginningOfDay()))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= "+arg(now.With(f.To).EndOfDay()))
	}
	if f.AssignedToID != "" {
		conds = append(conds, "assigned_to_id = "+arg(f.AssignedToID))
	}
	if f.PriorityOnly {
		conds = append(conds, "priority = true")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *OrdersRepository) FetchOrders(ctx context.Context, c domain.Collection, req domain.PageRequest) (domain.Page, error) {
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 {
		req.PageSize = 20
	}
	cond, args := where(c, req)

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`+cond, args...).Scan(&total); err != nil {
		return domain.Page{}, fmt.Errorf("count %s: %w", c, err)
	}
	pages := (total + req.PageSize - 1) / req.PageSize

	n := len(args)
	q := fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY priority DESC, created_at ASC LIMIT $%d OFFSET $%d`,
		orderColumns, cond, n+1, n+2)
	rows, err := r.db.QueryContext(ctx, q, append(args, req.PageSize, (req.Page-1)*req.PageSize)...)
	if err != nil {
		return domain.Page{}, fmt.Errorf("list %s: %w", c, err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var st string
		var assigned sql.NullString
		if err := rows.Scan(&o.ID, &o.Number, &st, &assigned, &o.WarehouseID, &o.DistrictID,
			&o.Priority, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return domain.Page{}, err
		}
		o.Status = domain.Status(st)
		if assigned.Valid {
			id := assigned.String
			o.AssignedToID = &id
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, err
	}
	if err := r.attachHistory(ctx, orders); err != nil {
		return domain.Page{}, err
	}

	return domain.Page{
		Orders:     orders,
		Pagination: domain.Pagination{Page: req.Page, Pages: pages, Total: total},
	}, nil
}

func (r *OrdersRepository) attachHistory(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	idx := make(map[string]int, len(orders))
	ph := make([]string, 0, len(orders))
	args := make([]any, 0, len(orders))
	for i, o := range orders {
		idx[o.ID] = i
		args = append(args, o.ID)
		ph = append(ph, fmt.Sprintf("$%d", len(args)))
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, status, changed_by, changed_at, notes
		FROM order_status_log WHERE order_id IN (`+strings.Join(ph, ",")+`)
		ORDER BY changed_at ASC, id ASC
	`, args...)
	if err != nil {
		return fmt.Errorf("status log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var orderID, st string
		var by sql.NullString
		var ev domain.StatusEvent
		if err := rows.Scan(&orderID, &st, &by, &ev.CreatedAt, &ev.Comment); err != nil {
			return err
		}
		ev.Status = domain.Status(st)
		if by.Valid {
			v := by.String
			ev.ChangedBy = &v
		}
		if i, ok := idx[orderID]; ok {
			orders[i].StatusHistory = append(orders[i].StatusHistory, ev)
		}
	}
	return rows.Err()
}

func (r *OrdersRepository) FetchStats(ctx context.Context, req domain.PageRequest) (domain.Stats, error) {
	cond, args := where(domain.CollectionStats, req)
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM orders`+cond+` GROUP BY status`, args...)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("stats: %w", err)
	}
	defer rows.Close()

	stats := domain.Stats{ByStatus: make(map[domain.Status]int)}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return domain.Stats{}, err
		}
		stats.ByStatus[domain.Status(st)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return domain.Stats{}, err
	}

	if req.ActorID != "" {
		if err := r.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM orders
			WHERE assigned_to_id = $1 AND status NOT IN ('DELIVERED','CANCELLED')
		`, req.ActorID).Scan(&stats.Mine); err != nil {
			return domain.Stats{}, fmt.Errorf("stats mine: %w", err)
		}
	}
	return stats, nil
}

type orderState struct {
	status   domain.Status
	assignee *string
}

// decideFunc returns the state the order moves to, or an error when the
// action does not apply to the current state.
type decideFunc func(cur orderState, actor domain.Actor) (orderState, error)

func (r *OrdersRepository) Take(ctx context.Context, req domain.ActionRequest) error {
	return r.transitionTx(ctx, req, func(cur orderState, actor domain.Actor) (orderState, error) {
		from, ok := status.TakeableFrom(actor.Role)
		if !ok {
			return cur, fmt.Errorf("%w: %s cannot take orders", domain.ErrIllegalTransition, actor.Role)
		}
		if cur.status != from {
			return cur, fmt.Errorf("%w: order is already %s", domain.ErrStateConflict, cur.status)
		}
		if cur.assignee != nil && *cur.assignee != actor.ID {
			return cur, fmt.Errorf("%w: order is taken by %s", domain.ErrStateConflict, *cur.assignee)
		}
		start, _ := status.StartStatus(actor.Role)
		id := actor.ID
		return orderState{status: start, assignee: &id}, nil
	})
}

func (r *OrdersRepository) Release(ctx context.Context, req domain.ActionRequest) error {
	return r.transitionTx(ctx, req, func(cur orderState, actor domain.Actor) (orderState, error) {
		if cur.assignee == nil || *cur.assignee != actor.ID {
			return cur, fmt.Errorf("%w: order is not assigned to %s", domain.ErrStateConflict, actor.ID)
		}
		if !status.Owns(actor.Role, cur.status) {
			return cur, fmt.Errorf("%w: order is already %s", domain.ErrStateConflict, cur.status)
		}
		back, _ := status.ReleaseTarget(actor.Role)
		return orderState{status: back}, nil
	})
}

func (r *OrdersRepository) AdvanceStatus(ctx context.Context, req domain.ActionRequest) error {
	return r.transitionTx(ctx, req, moveTo(req.TargetStatus))
}

func (r *OrdersRepository) Cancel(ctx context.Context, req domain.ActionRequest) error {
	return r.transitionTx(ctx, req, moveTo(domain.StatusCancelled))
}

// moveTo checks the transition against the status the row has now. Moving
// out of the actor's own stage hands the order over, so the assignee is
// cleared.
func moveTo(target domain.Status) decideFunc {
	return func(cur orderState, actor domain.Actor) (orderState, error) {
		if err := status.ValidateTransition(cur.status, target, actor.EffectiveRole()); err != nil {
			return cur, fmt.Errorf("%w: %v", domain.ErrStateConflict, err)
		}
		next := orderState{status: target, assignee: cur.assignee}
		if !status.Owns(actor.Role, target) && !status.IsTerminal(target) {
			next.assignee = nil
		}
		return next, nil
	}
}

func (r *OrdersRepository) transitionTx(ctx context.Context, req domain.ActionRequest, decide decideFunc) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var st string
	var assigned sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status, assigned_to_id FROM orders WHERE id=$1 FOR UPDATE`, req.OrderID).
		Scan(&st, &assigned)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: order %s", domain.ErrNotFound, req.OrderID)
	}
	if err != nil {
		return err
	}
	cur := orderState{status: domain.Status(st)}
	if assigned.Valid {
		v := assigned.String
		cur.assignee = &v
	}

	next, err := decide(cur, req.Actor)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE orders SET status=$2, assigned_to_id=$3, updated_at=now()
		WHERE id=$1
	`, req.OrderID, string(next.status), nullable(next.assignee)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_log(order_id,status,changed_by,changed_at,notes)
		VALUES ($1,$2,$3,now(),$4)
	`, req.OrderID, string(next.status), req.Actor.ID, req.Comment); err != nil {
		return err
	}
	return tx.Commit()
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
