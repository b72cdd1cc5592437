package history

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/gocql/gocql"

	"storefront/internal/order"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Cassandra stores status changes in <keyspace>.order_status_history,
// partitioned by order and clustered newest first.
type Cassandra struct {
	session  *gocql.Session
	keyspace string
}

// NewCassandra wraps an established session. The keyspace must be a plain
// identifier because it is interpolated into CQL.
func NewCassandra(session *gocql.Session, keyspace string) (*Cassandra, error) {
	if !keyspacePattern.MatchString(keyspace) {
		return nil, fmt.Errorf("invalid cassandra keyspace %q", keyspace)
	}
	return &Cassandra{session: session, keyspace: keyspace}, nil
}

// InitSchema creates the keyspace and table if they don't exist.
func (c *Cassandra) InitSchema(ctx context.Context) error {
	slog.Info("initializing cassandra schema", "keyspace", c.keyspace)

	err := c.session.Query(fmt.Sprintf(`
		CREATE KEYSPACE IF NOT EXISTS %s
		WITH replication = {
			'class': 'SimpleStrategy',
			'replication_factor': 1
		}
	`, c.keyspace)).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}

	err = c.session.Query(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.order_status_history (
			order_id       TEXT,
			changed_at     TIMESTAMP,
			status         TEXT,
			payment_status TEXT,
			reason         TEXT,
			PRIMARY KEY (order_id, changed_at)
		) WITH CLUSTERING ORDER BY (changed_at DESC)
	`, c.keyspace)).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("create order_status_history table: %w", err)
	}
	return nil
}

// Record appends a status change.
func (c *Cassandra) Record(ctx context.Context, sc order.StatusChange) error {
	if sc.ChangedAt.IsZero() {
		sc.ChangedAt = time.Now().UTC()
	}
	err := c.session.Query(fmt.Sprintf(`
		INSERT INTO %s.order_status_history (order_id, changed_at, status, payment_status, reason)
		VALUES (?, ?, ?, ?, ?)
	`, c.keyspace), sc.OrderID, sc.ChangedAt, sc.Status, sc.PaymentStatus, sc.Reason).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

// List returns the status change history for an order, most recent first.
func (c *Cassandra) List(ctx context.Context, orderID string) ([]order.StatusChange, error) {
	iter := c.session.Query(fmt.Sprintf(`
		SELECT order_id, changed_at, status, payment_status, reason
		FROM %s.order_status_history
		WHERE order_id = ?
		ORDER BY changed_at DESC
	`, c.keyspace), orderID).WithContext(ctx).Iter()

	history := make([]order.StatusChange, 0)
	var sc order.StatusChange
	for iter.Scan(&sc.OrderID, &sc.ChangedAt, &sc.Status, &sc.PaymentStatus, &sc.Reason) {
		history = append(history, sc)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("get order history: %w", err)
	}
	return history, nil
}

// Connect dials the cluster and retries until it answers or timeout elapses.
func Connect(ctx context.Context, hosts []string, timeout time.Duration) (*gocql.Session, error) {
	deadline := time.Now().Add(timeout)

	for {
		cluster := gocql.NewCluster(hosts...)
		cluster.Consistency = gocql.Quorum
		cluster.Timeout = 10 * time.Second
		cluster.ConnectTimeout = 10 * time.Second

		session, err := cluster.CreateSession()
		if err == nil {
			if err = session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec(); err == nil {
				slog.Info("connected to cassandra", "hosts", hosts)
				return session, nil
			}
			session.Close()
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("cassandra connection timeout after %v: %w", timeout, err)
		}

		slog.Warn("cassandra not ready, retrying in 5s", "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
}
