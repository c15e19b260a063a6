package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/food-dispatch/internal/models"
)

// PostgresStore persists each document as a jsonb blob with the few fields
// the scan queries need lifted into real columns. Transact maps directly
// onto a database transaction; reads inside it take row locks so concurrent
// Accept/Reject/sweep calls on the same task are serialized and the loser
// observes the committed state.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) DB() *sql.DB { return p.db }

type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (p *PostgresStore) Transact(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func getDoc(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, query, id string, out any) error {
	var raw []byte
	err := q.QueryRowContext(ctx, query, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (t *pgTx) Donation(id string) (*models.Donation, error) {
	var d models.Donation
	if err := getDoc(t.ctx, t.tx, `SELECT doc FROM donations WHERE id=$1 FOR UPDATE`, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) PutDonation(d *models.Donation) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO donations(id, status, doc) VALUES($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, doc=EXCLUDED.doc`,
		d.ID, string(d.Status), raw)
	return err
}

func (t *pgTx) Task(id string) (*models.DeliveryTask, error) {
	var dt models.DeliveryTask
	if err := getDoc(t.ctx, t.tx, `SELECT doc FROM delivery_tasks WHERE id=$1 FOR UPDATE`, id, &dt); err != nil {
		return nil, err
	}
	return &dt, nil
}

func (t *pgTx) PutTask(dt *models.DeliveryTask) error {
	raw, err := json.Marshal(dt)
	if err != nil {
		return err
	}
	var expiry *time.Time
	if dt.OfferExpiry != nil {
		e := dt.OfferExpiry.UTC()
		expiry = &e
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO delivery_tasks(id, donation_id, status, offer_expiry, doc) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, offer_expiry=EXCLUDED.offer_expiry, doc=EXCLUDED.doc`,
		dt.ID, dt.DonationID, string(dt.Status), expiry, raw)
	return err
}

func (t *pgTx) Actor(id string) (*models.Actor, error) {
	var a models.Actor
	if err := getDoc(t.ctx, t.tx, `SELECT doc FROM actors WHERE id=$1 FOR UPDATE`, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) PutActor(a *models.Actor) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `INSERT INTO actors(id, role, doc) VALUES($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET role=EXCLUDED.role, doc=EXCLUDED.doc`,
		a.ID, string(a.Role), raw)
	return err
}

func (p *PostgresStore) Donation(ctx context.Context, id string) (*models.Donation, error) {
	var d models.Donation
	if err := getDoc(ctx, p.db, `SELECT doc FROM donations WHERE id=$1`, id, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (p *PostgresStore) Task(ctx context.Context, id string) (*models.DeliveryTask, error) {
	var dt models.DeliveryTask
	if err := getDoc(ctx, p.db, `SELECT doc FROM delivery_tasks WHERE id=$1`, id, &dt); err != nil {
		return nil, err
	}
	return &dt, nil
}

func (p *PostgresStore) Actor(ctx context.Context, id string) (*models.Actor, error) {
	var a models.Actor
	if err := getDoc(ctx, p.db, `SELECT doc FROM actors WHERE id=$1`, id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (p *PostgresStore) ListActorsByRole(ctx context.Context, role models.Role) ([]models.Actor, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM actors WHERE role=$1 ORDER BY id`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.Actor, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var a models.Actor
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode actor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]models.DeliveryTask, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT doc FROM delivery_tasks
		WHERE status=$1 AND offer_expiry IS NOT NULL AND offer_expiry <= $2
		ORDER BY offer_expiry LIMIT $3`, string(models.TaskOffered), now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.DeliveryTask, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var t models.DeliveryTask
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SaveNotification(ctx context.Context, n *models.Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO notifications(id, recipient, created_at, doc) VALUES($1,$2,$3,$4)
		ON CONFLICT (id) DO NOTHING`, n.ID, n.Recipient, n.CreatedAt.UTC(), raw)
	return err
}

func (p *PostgresStore) DeleteSiblingOffers(ctx context.Context, donationID, keepTaskID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM broadcast_offers WHERE donation_id=$1 AND id <> $2`, donationID, keepTaskID)
	return err
}
