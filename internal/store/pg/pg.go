package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/zapacademy/platform/internal/entitlement"
	"github.com/zapacademy/platform/internal/pricing"
)

const maxTxRetries = 3

func New(dbConnStr string) (*Repo, error) {
	db, err := sqlx.Connect("postgres", dbConnStr)
	if err != nil {
		return nil, fmt.Errorf("sqlx.Connect: %w", err)
	}

	// sqlx default is 0 (unlimited), while postgresql by default accepts up to 100 connections
	db.SetMaxOpenConns(80)

	// TODO: migrations
	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS content (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	price BIGINT,
	owner_pubkey TEXT NOT NULL,
	owner_user_id TEXT NOT NULL,
	event_id TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS course_resources (
	course_id TEXT NOT NULL,
	resource_id TEXT NOT NULL,
	PRIMARY KEY (course_id, resource_id)
);

CREATE INDEX IF NOT EXISTS idx_course_resources_resource ON course_resources(resource_id);

CREATE TABLE IF NOT EXISTS enrollments (
	user_id TEXT NOT NULL,
	course_id TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS purchases (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	content_id TEXT NOT NULL,
	content_kind TEXT NOT NULL,
	amount_paid BIGINT NOT NULL DEFAULT 0,
	price_at_purchase BIGINT,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL,
	UNIQUE (user_id, content_id)
);

CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases(user_id);

CREATE TABLE IF NOT EXISTS purchase_receipts (
	receipt_id TEXT PRIMARY KEY,
	purchase_id TEXT NOT NULL REFERENCES purchases(id),
	amount_sats BIGINT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_purchase_receipts_purchase ON purchase_receipts(purchase_id);
    `)
	if err != nil {
		return nil, fmt.Errorf("db.Exec schema: %w", err)
	}

	return &Repo{
		db: db,
	}, nil
}

type Repo struct {
	db *sqlx.DB
}

func (r *Repo) FindContentPrice(ctx context.Context, ref pricing.ContentRef) (*pricing.ContentPrice, error) {
	const query = `SELECT price, owner_pubkey, owner_user_id, event_id, address FROM content WHERE id=$1 AND kind=$2;`

	var row struct {
		Price       sql.NullInt64 `db:"price"`
		OwnerPubkey string        `db:"owner_pubkey"`
		OwnerUserID string        `db:"owner_user_id"`
		EventID     string        `db:"event_id"`
		Address     string        `db:"address"`
	}
	err := r.db.GetContext(ctx, &row, query, ref.ID(), string(ref.Type()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.Get content: %w", err)
	}

	cp := pricing.ContentPrice{
		OwnerPubkey: row.OwnerPubkey,
		OwnerUserID: row.OwnerUserID,
		EventID:     row.EventID,
		Address:     row.Address,
	}
	if row.Price.Valid {
		price := row.Price.Int64
		cp.Price = &price
	}

	return &cp, nil
}

func (r *Repo) FindPurchase(ctx context.Context, userID string, ref pricing.ContentRef) (*entitlement.Purchase, error) {
	const query = `SELECT id, user_id, content_id, content_kind, amount_paid, price_at_purchase, created_at, updated_at
FROM purchases WHERE user_id=$1 AND content_id=$2;`

	row := r.db.QueryRowxContext(ctx, query, userID, ref.ID())
	p, err := scanPurchase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("db.Get purchase: %w", err)
	}

	if err := r.loadReceiptIDs(ctx, p); err != nil {
		return nil, err
	}

	return p, nil
}

func (r *Repo) ListPurchases(ctx context.Context, userID string) ([]entitlement.Purchase, error) {
	const query = `SELECT id, user_id, content_id, content_kind, amount_paid, price_at_purchase, created_at, updated_at
FROM purchases WHERE user_id=$1 ORDER BY created_at;`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db.Query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []entitlement.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		if err := r.loadReceiptIDs(ctx, p); err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return purchases, nil
}

// UpsertPurchase merges new receipt credits into the (user, content) row in
// a single serializable transaction. The initial insert-or-touch acquires
// the row lock, the per-receipt inserts dedup on the receipt id primary key,
// and only receipts actually inserted contribute to the delta. Serialization
// failures retry a bounded number of times.
func (r *Repo) UpsertPurchase(ctx context.Context, req entitlement.UpsertRequest) (*entitlement.Purchase, error) {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		p, err := r.upsertTx(ctx, req)
		if err == nil {
			return p, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}

	return nil, fmt.Errorf("%w: %v", entitlement.ErrConflict, lastErr)
}

func (r *Repo) upsertTx(ctx context.Context, req entitlement.UpsertRequest) (*entitlement.Purchase, error) {
	tx, err := r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("db.Begin: %w", err)
	}
	defer tx.Rollback()

	const upsert = `INSERT INTO purchases (id, user_id, content_id, content_kind, price_at_purchase)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id, content_id) DO UPDATE SET updated_at = NOW()
RETURNING id;`

	var purchaseID string
	err = tx.GetContext(ctx, &purchaseID, upsert,
		uuid.New().String(), req.UserID, req.Ref.ID(), string(req.Ref.Type()), req.PriceSnapshot)
	if err != nil {
		return nil, fmt.Errorf("db.Exec upsert purchase: %w", err)
	}

	var delta int64
	for _, c := range req.Credits {
		const insert = `INSERT INTO purchase_receipts (receipt_id, purchase_id, amount_sats)
VALUES ($1, $2, $3) ON CONFLICT (receipt_id) DO NOTHING;`

		res, err := tx.ExecContext(ctx, insert, c.ReceiptID, purchaseID, c.Sats)
		if err != nil {
			return nil, fmt.Errorf("db.Exec insert receipt: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			delta += c.Sats
		}
	}

	if delta > 0 {
		const update = `UPDATE purchases
SET amount_paid = amount_paid + $2,
    price_at_purchase = COALESCE(price_at_purchase, $3),
    updated_at = NOW()
WHERE id=$1;`

		if _, err := tx.ExecContext(ctx, update, purchaseID, delta, req.PriceSnapshot); err != nil {
			return nil, fmt.Errorf("db.Exec update purchase: %w", err)
		}
	}

	const query = `SELECT id, user_id, content_id, content_kind, amount_paid, price_at_purchase, created_at, updated_at
FROM purchases WHERE id=$1;`

	p, err := scanPurchase(tx.QueryRowxContext(ctx, query, purchaseID))
	if err != nil {
		return nil, fmt.Errorf("db.Get purchase: %w", err)
	}

	const receiptQuery = `SELECT receipt_id FROM purchase_receipts WHERE purchase_id=$1 ORDER BY created_at;`
	if err := tx.SelectContext(ctx, &p.ReceiptIDs, receiptQuery, purchaseID); err != nil {
		return nil, fmt.Errorf("db.Select receipts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("tx.Commit: %w", err)
	}

	return p, nil
}

func (r *Repo) FindCourseMemberships(ctx context.Context, resourceID string) ([]string, error) {
	const query = `SELECT course_id FROM course_resources WHERE resource_id=$1;`

	var courseIDs []string
	if err := r.db.SelectContext(ctx, &courseIDs, query, resourceID); err != nil {
		return nil, fmt.Errorf("db.Select memberships: %w", err)
	}

	return courseIDs, nil
}

func (r *Repo) FindEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT COUNT(1) FROM enrollments WHERE user_id=$1 AND course_id=$2;`

	var count int
	if err := r.db.GetContext(ctx, &count, query, userID, courseID); err != nil {
		return false, fmt.Errorf("db.Get enrollment: %w", err)
	}

	return count > 0, nil
}

func (r *Repo) loadReceiptIDs(ctx context.Context, p *entitlement.Purchase) error {
	const query = `SELECT receipt_id FROM purchase_receipts WHERE purchase_id=$1 ORDER BY created_at;`

	if err := r.db.SelectContext(ctx, &p.ReceiptIDs, query, p.ID); err != nil {
		return fmt.Errorf("db.Select receipts: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPurchase(row rowScanner) (*entitlement.Purchase, error) {
	var (
		p         entitlement.Purchase
		contentID string
		kind      string
		snapshot  sql.NullInt64
	)
	err := row.Scan(&p.ID, &p.UserID, &contentID, &kind, &p.AmountPaid, &snapshot, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if snapshot.Valid {
		v := snapshot.Int64
		p.PriceAtPurchase = &v
	}
	if kind == string(pricing.ContentCourse) {
		p.CourseID = &contentID
	} else {
		p.ResourceID = &contentID
	}

	return &p, nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// serialization_failure and deadlock_detected
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
