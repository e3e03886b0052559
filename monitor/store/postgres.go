package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using a PostgreSQL backend.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore initializes a new PostgresStore with a connection pool.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	config.MaxConns = 50
	config.MinConns = 5
	config.MaxConnLifetime = time.Hour
	config.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) ActiveUsers(ctx context.Context) ([]ActiveUser, error) {
	query := `
		SELECT o.user_id, COUNT(o.id) AS order_count, COALESCE(AVG(o.priority), 0) AS avg_priority
		FROM orders o
		JOIN users u ON o.user_id = u.id
		JOIN order_groups og ON o.group_id = og.id
		WHERE o.status IN ($1, $2) AND u.status = $3 AND og.status = $4
		GROUP BY o.user_id
		ORDER BY order_count DESC, avg_priority DESC
	`
	var result []ActiveUser
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, query,
			OrderPending, OrderPartial, UserEnabled, GroupOpen)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			var a ActiveUser
			if err := rows.Scan(&a.UserID, &a.OrderCount, &a.AvgPriority); err != nil {
				return err
			}
			result = append(result, a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) UserWorkingSet(ctx context.Context, userID int64) ([]*Order, error) {
	query := `
		SELECT id, user_id, group_id, order_no, symbol, order_type, price,
		       quantity, filled_quantity, status, priority, created_at, updated_at, filled_at
		FROM orders
		WHERE user_id = $1 AND status IN ($2, $3)
		ORDER BY priority DESC, created_at ASC
	`
	var result []*Order
	err := withRetry(ctx, func() error {
		rows, err := s.pool.Query(ctx, query, userID, OrderPending, OrderPartial)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			var o Order
			if err := rows.Scan(
				&o.ID, &o.UserID, &o.GroupID, &o.OrderNo, &o.Symbol, &o.OrderType,
				&o.Price, &o.Quantity, &o.FilledQuantity, &o.Status, &o.Priority,
				&o.CreatedAt, &o.UpdatedAt, &o.FilledAt,
			); err != nil {
				return err
			}
			result = append(result, &o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	query := `SELECT id, username, status, updated_at FROM users WHERE id = $1`
	var u User
	err := s.pool.QueryRow(ctx, query, userID).Scan(&u.ID, &u.Username, &u.Status, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetGroup(ctx context.Context, groupID int64) (*OrderGroup, error) {
	query := `SELECT id, user_id, group_name, status, updated_at FROM order_groups WHERE id = $1`
	var g OrderGroup
	err := s.pool.QueryRow(ctx, query, groupID).Scan(&g.ID, &g.UserID, &g.GroupName, &g.Status, &g.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) SnapshotUsers(ctx context.Context) ([]*User, error) {
	query := `SELECT id, username, status, updated_at FROM users`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Status, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) SnapshotGroups(ctx context.Context) ([]*OrderGroup, error) {
	query := `SELECT id, user_id, group_name, status, updated_at FROM order_groups`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*OrderGroup
	for rows.Next() {
		var g OrderGroup
		if err := rows.Scan(&g.ID, &g.UserID, &g.GroupName, &g.Status, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) UserGroups(ctx context.Context, userID int64) ([]*OrderGroup, error) {
	query := `SELECT id, user_id, group_name, status, updated_at FROM order_groups WHERE user_id = $1`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*OrderGroup
	for rows.Next() {
		var g OrderGroup
		if err := rows.Scan(&g.ID, &g.UserID, &g.GroupName, &g.Status, &g.UpdatedAt); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

func (s *PostgresStore) CountGroupActiveOrders(ctx context.Context, groupID int64) (int, error) {
	query := `SELECT COUNT(*) FROM orders WHERE group_id = $1 AND status IN ($2, $3)`
	var count int
	err := s.pool.QueryRow(ctx, query, groupID, OrderPending, OrderPartial).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus, filled float64) error {
	// filled_at is stamped exactly once, on the transition into Filled.
	query := `
		UPDATE orders
		SET status = $2, filled_quantity = $3, updated_at = NOW(),
		    filled_at = CASE WHEN $2 = $4 THEN NOW() ELSE filled_at END
		WHERE id = $1
	`
	return withRetry(ctx, func() error {
		tag, err := s.pool.Exec(ctx, query, orderID, status, filled, OrderFilled)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *PostgresStore) AppendStatusLog(ctx context.Context, entry *StatusLog) error {
	query := `
		INSERT INTO order_status_logs (order_id, old_status, new_status, old_filled_quantity, new_filled_quantity, change_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	return withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, query,
			entry.OrderID, entry.OldStatus, entry.NewStatus,
			entry.OldFilled, entry.NewFilled, entry.Reason)
		return err
	})
}
