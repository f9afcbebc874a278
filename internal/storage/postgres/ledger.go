package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/stockledger/internal/domain"
)

type ledger struct {
	db        *sql.DB
	isolation sql.IsolationLevel
}

// NewLedger создаёт PostgreSQL-реализацию StockLedger.
// Изменения остатков выполняются с уровнем изоляции store (по умолчанию SERIALIZABLE).
func NewLedger(store *Store) domain.StockLedger {
	return &ledger{db: store.DB(), isolation: store.Isolation()}
}

func (l *ledger) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanProduct(l.db.QueryRowContext(ctx, `
		SELECT id, name, stock, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id))
}

func (l *ledger) GetVariant(ctx context.Context, id string) (domain.Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return scanVariant(l.db.QueryRowContext(ctx, `
		SELECT id, product_id, name, stock, created_at, updated_at
		FROM product_variants
		WHERE id = $1
	`, id))
}

func (l *ledger) CreateProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertProduct(ctx, l.db, p)
}

func (l *ledger) CreateVariant(ctx context.Context, v domain.Variant) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return insertVariant(ctx, l.db, v)
}

func insertProduct(ctx context.Context, db execer, p domain.Product) error {
	if p.ID == "" {
		return domain.ErrProductIDRequired
	}
	if p.Stock < 0 {
		return domain.ErrNegativeStock
	}

	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO products (id, name, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, p.ID, p.Name, p.Stock, p.CreatedAt, now)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrProductExists
		}
		return storeError("insert product", err)
	}
	return nil
}

func insertVariant(ctx context.Context, db execer, v domain.Variant) error {
	if v.ID == "" || v.ProductID == "" {
		return domain.ErrProductIDRequired
	}
	if v.Stock < 0 {
		return domain.ErrNegativeStock
	}

	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO product_variants (id, product_id, name, stock, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, v.ID, v.ProductID, v.Name, v.Stock, v.CreatedAt, now)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return domain.ErrProductExists
		case pgForeignKeyViolation:
			return domain.ErrProductNotFound
		}
		return storeError("insert variant", err)
	}
	return nil
}

func (l *ledger) ListHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.StockHistoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("product_id", filter.ProductID)
	add("variant_id", filter.VariantID)
	add("order_id", filter.OrderID)

	query := `
		SELECT id, product_id, COALESCE(variant_id, ''), type, quantity, previous_stock, new_stock,
		       reason, COALESCE(order_id, ''), COALESCE(order_item_id, ''), COALESCE(user_id, ''), created_at
		FROM stock_history`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list stock history", err)
	}
	defer rows.Close()

	result := make([]domain.StockHistoryRecord, 0)
	for rows.Next() {
		var (
			rec domain.StockHistoryRecord
			typ string
		)
		if err := rows.Scan(
			&rec.ID, &rec.ProductID, &rec.VariantID, &typ, &rec.Quantity, &rec.PreviousStock, &rec.NewStock,
			&rec.Reason, &rec.OrderID, &rec.OrderItemID, &rec.UserID, &rec.CreatedAt,
		); err != nil {
			return nil, storeError("scan stock history", err)
		}
		rec.Type = domain.StockChangeType(typ)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("iterate stock history", err)
	}

	return result, nil
}

// WithinTx открывает транзакцию с настроенным уровнем изоляции. Ошибка fn или
// коммита откатывает все изменения остатков, журнала и outbox.
func (l *ledger) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.StockLedgerTx) error) (err error) {
	sqlTx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: l.isolation})
	if err != nil {
		return storeError("begin stock tx", err)
	}

	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(ctx, &ledgerTx{tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return storeError("commit stock tx", err)
	}
	return nil
}

type ledgerTx struct {
	tx *sql.Tx
}

func (t *ledgerTx) CreateProduct(ctx context.Context, p domain.Product) error {
	return insertProduct(ctx, t.tx, p)
}

func (t *ledgerTx) CreateVariant(ctx context.Context, v domain.Variant) error {
	return insertVariant(ctx, t.tx, v)
}

func (t *ledgerTx) LockProduct(ctx context.Context, id string) (domain.Product, error) {
	return scanProduct(t.tx.QueryRowContext(ctx, `
		SELECT id, name, stock, created_at, updated_at
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *ledgerTx) LockVariant(ctx context.Context, id string) (domain.Variant, error) {
	return scanVariant(t.tx.QueryRowContext(ctx, `
		SELECT id, product_id, name, stock, created_at, updated_at
		FROM product_variants
		WHERE id = $1
		FOR UPDATE
	`, id))
}

func (t *ledgerTx) SetProductStock(ctx context.Context, id string, stock int) error {
	return t.setStock(ctx, "products", id, stock, domain.ErrProductNotFound)
}

func (t *ledgerTx) SetVariantStock(ctx context.Context, id string, stock int) error {
	return t.setStock(ctx, "product_variants", id, stock, domain.ErrVariantNotFound)
}

func (t *ledgerTx) setStock(ctx context.Context, table, id string, stock int, notFound error) error {
	if stock < 0 {
		return domain.ErrNegativeStock
	}

	res, err := t.tx.ExecContext(ctx,
		`UPDATE `+table+` SET stock = $2, updated_at = $3 WHERE id = $1`,
		id, stock, time.Now().UTC(),
	)
	if err != nil {
		if pgErrorCode(err) == pgCheckViolation {
			return domain.ErrNegativeStock
		}
		return storeError("update "+table+" stock", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeError("rows affected", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

func (t *ledgerTx) AppendHistory(ctx context.Context, rec domain.StockHistoryRecord) (domain.StockHistoryRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO stock_history (
			id, product_id, variant_id, type, quantity, previous_stock, new_stock,
			reason, order_id, order_item_id, user_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		rec.ID, rec.ProductID, nullString(rec.VariantID), string(rec.Type), rec.Quantity,
		rec.PreviousStock, rec.NewStock, rec.Reason,
		nullString(rec.OrderID), nullString(rec.OrderItemID), nullString(rec.UserID), rec.CreatedAt,
	)
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return domain.StockHistoryRecord{}, domain.ErrStockAlreadyApplied
		case pgCheckViolation:
			return domain.StockHistoryRecord{}, fmt.Errorf("%w: history record violates ledger arithmetic", domain.ErrStoreFailure)
		}
		return domain.StockHistoryRecord{}, storeError("insert stock history", err)
	}

	return rec, nil
}

func (t *ledgerTx) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	if _, err := insertOutbox(ctx, t.tx, msg); err != nil {
		return storeError("enqueue outbox in stock tx", err)
	}
	return nil
}

func scanProduct(row *sql.Row) (domain.Product, error) {
	var p domain.Product
	if err := row.Scan(&p.ID, &p.Name, &p.Stock, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, storeError("select product", err)
	}
	return p, nil
}

func scanVariant(row *sql.Row) (domain.Variant, error) {
	var v domain.Variant
	if err := row.Scan(&v.ID, &v.ProductID, &v.Name, &v.Stock, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Variant{}, domain.ErrVariantNotFound
		}
		return domain.Variant{}, storeError("select variant", err)
	}
	return v, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

var (
	_ domain.StockLedger   = (*ledger)(nil)
	_ domain.StockLedgerTx = (*ledgerTx)(nil)
)
