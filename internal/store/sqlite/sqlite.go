package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/zapacademy/platform/internal/entitlement"
	"github.com/zapacademy/platform/internal/pricing"
)

const maxTxRetries = 3

// New opens (creating if needed) a sqlite-backed store. Write transactions
// take the database lock at BEGIN so concurrent upserts for the same pair
// serialize instead of interleaving.
func New(dbFile string) (*Repo, error) {
	if dbFile == "" {
		return nil, fmt.Errorf("must set db_file")
	}
	if _, err := os.Stat(dbFile); errors.Is(err, os.ErrNotExist) {
		f, err := os.Create(dbFile)
		if err != nil {
			return nil, err
		}
		f.Close()
	}

	db, err := sql.Open("sqlite3", dbFile+"?_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	r := Repo{
		dbFile: dbFile,
		db:     db,
	}

	if err := r.createSchema(); err != nil {
		return nil, err
	}

	return &r, nil
}

type Repo struct {
	dbFile string
	db     *sql.DB
}

func (r *Repo) Close() error {
	return r.db.Close()
}

func (r *Repo) createSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS content (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    price INTEGER,
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
    created_at DATETIME NOT NULL,
    PRIMARY KEY (user_id, course_id)
);

CREATE TABLE IF NOT EXISTS purchases (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    content_id TEXT NOT NULL,
    content_kind TEXT NOT NULL,
    amount_paid INTEGER NOT NULL DEFAULT 0,
    price_at_purchase INTEGER,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    UNIQUE (user_id, content_id)
);

CREATE INDEX IF NOT EXISTS idx_purchases_user ON purchases(user_id);

CREATE TABLE IF NOT EXISTS purchase_receipts (
    receipt_id TEXT PRIMARY KEY,
    purchase_id TEXT NOT NULL,
    amount_sats INTEGER NOT NULL,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_purchase_receipts_purchase ON purchase_receipts(purchase_id);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return err
	}

	return nil
}

// CreateContent registers a content row. Authoring is an external
// collaborator; this exists for self-hosted setups and tests.
func (r *Repo) CreateContent(ctx context.Context, id string, kind pricing.ContentType, price *int64, ownerPubkey, ownerUserID, eventID, address string) error {
	const insert = `INSERT OR REPLACE INTO content (id, kind, price, owner_pubkey, owner_user_id, event_id, address) VALUES (?, ?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, insert, id, string(kind), price, ownerPubkey, ownerUserID, eventID, address); err != nil {
		return fmt.Errorf("db.Exec insert content: %w", err)
	}
	return nil
}

func (r *Repo) AddCourseResource(ctx context.Context, courseID, resourceID string) error {
	const insert = `INSERT OR IGNORE INTO course_resources (course_id, resource_id) VALUES (?, ?)`

	if _, err := r.db.ExecContext(ctx, insert, courseID, resourceID); err != nil {
		return fmt.Errorf("db.Exec insert membership: %w", err)
	}
	return nil
}

func (r *Repo) CreateEnrollment(ctx context.Context, userID, courseID string) error {
	const insert = `INSERT OR IGNORE INTO enrollments (user_id, course_id, created_at) VALUES (?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, insert, userID, courseID, time.Now()); err != nil {
		return fmt.Errorf("db.Exec insert enrollment: %w", err)
	}
	return nil
}

func (r *Repo) FindContentPrice(ctx context.Context, ref pricing.ContentRef) (*pricing.ContentPrice, error) {
	const query = `SELECT price, owner_pubkey, owner_user_id, event_id, address FROM content WHERE id=? AND kind=?`

	var (
		cp    pricing.ContentPrice
		price sql.NullInt64
	)
	row := r.db.QueryRowContext(ctx, query, ref.ID(), string(ref.Type()))
	err := row.Scan(&price, &cp.OwnerPubkey, &cp.OwnerUserID, &cp.EventID, &cp.Address)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if price.Valid {
		v := price.Int64
		cp.Price = &v
	}

	return &cp, nil
}

func (r *Repo) FindPurchase(ctx context.Context, userID string, ref pricing.ContentRef) (*entitlement.Purchase, error) {
	const query = `SELECT id, user_id, content_id, content_kind, amount_paid, price_at_purchase, created_at, updated_at
FROM purchases WHERE user_id=? AND content_id=?`

	p, err := scanPurchase(r.db.QueryRowContext(ctx, query, userID, ref.ID()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	p.ReceiptIDs, err = r.receiptIDs(ctx, r.db, p.ID)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (r *Repo) ListPurchases(ctx context.Context, userID string) ([]entitlement.Purchase, error) {
	const query = `SELECT id, user_id, content_id, content_kind, amount_paid, price_at_purchase, created_at, updated_at
FROM purchases WHERE user_id=? ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var purchases []entitlement.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		p.ReceiptIDs, err = r.receiptIDs(ctx, r.db, p.ID)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return purchases, nil
}

// UpsertPurchase merges new receipt credits into the (user, content) row.
// The transaction takes the write lock up front (_txlock=immediate), so the
// read-modify-write cannot interleave with another claim for the same pair.
func (r *Repo) UpsertPurchase(ctx context.Context, req entitlement.UpsertRequest) (*entitlement.Purchase, error) {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		p, err := r.upsertTx(ctx, req)
		if err == nil {
			return p, nil
		}
		if !isBusy(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(time.Duration(attempt+1) * 25 * time.Millisecond)
	}

	return nil, fmt.Errorf("%w: %v", entitlement.ErrConflict, lastErr)
}

func (r *Repo) upsertTx(ctx context.Context, req entitlement.UpsertRequest) (*entitlement.Purchase, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	var purchaseID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM purchases WHERE user_id=? AND content_id=?`,
		req.UserID, req.Ref.ID()).Scan(&purchaseID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		purchaseID = uuid.New().String()
		_, err = tx.ExecContext(ctx,
			`INSERT INTO purchases (id, user_id, content_id, content_kind, amount_paid, price_at_purchase, created_at, updated_at)
VALUES (?, ?, ?, ?, 0, ?, ?, ?)`,
			purchaseID, req.UserID, req.Ref.ID(), string(req.Ref.Type()), req.PriceSnapshot, now, now)
		if err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	var delta int64
	for _, c := range req.Credits {
		res, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO purchase_receipts (receipt_id, purchase_id, amount_sats, created_at) VALUES (?, ?, ?, ?)`,
			c.ReceiptID, purchaseID, c.Sats, now)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			delta += c.Sats
		}
	}

	if delta > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE purchases SET amount_paid = amount_paid + ?, price_at_purchase = COALESCE(price_at_purchase, ?), updated_at = ? WHERE id=?`,
			delta, req.PriceSnapshot, now, purchaseID)
		if err != nil {
			return nil, err
		}
	}

	p, err := scanPurchase(tx.QueryRowContext(ctx,
		`SELECT id, user_id, content_id, content_kind, amount_paid, price_at_purchase, created_at, updated_at FROM purchases WHERE id=?`,
		purchaseID))
	if err != nil {
		return nil, err
	}

	p.ReceiptIDs, err = r.receiptIDs(ctx, tx, purchaseID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return p, nil
}

func (r *Repo) FindCourseMemberships(ctx context.Context, resourceID string) ([]string, error) {
	const query = `SELECT course_id FROM course_resources WHERE resource_id=?`

	rows, err := r.db.QueryContext(ctx, query, resourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courseIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		courseIDs = append(courseIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return courseIDs, nil
}

func (r *Repo) FindEnrollment(ctx context.Context, userID, courseID string) (bool, error) {
	const query = `SELECT COUNT(1) FROM enrollments WHERE user_id=? AND course_id=?`

	var count int
	if err := r.db.QueryRowContext(ctx, query, userID, courseID).Scan(&count); err != nil {
		return false, err
	}

	return count > 0, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *Repo) receiptIDs(ctx context.Context, q querier, purchaseID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT receipt_id FROM purchase_receipts WHERE purchase_id=? ORDER BY created_at, receipt_id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
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

func isBusy(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}
