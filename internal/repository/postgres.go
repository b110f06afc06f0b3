// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/giftcard-fulfillment/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoFreeCode возвращается, если в пуле нет свободного кода нужного номинала.
var ErrNoFreeCode = errors.New("no free gift code")

// Причины отклонения кодов при импорте.
const (
	RejectAlreadyInPool  = "already in pool"
	RejectDuplicateBatch = "duplicate in batch"
)

// ClaimTx: операции над пулом, доступные внутри одной транзакции выдачи.
type ClaimTx interface {
	LockOrder(ctx context.Context, orderID string) error
	CountClaimed(ctx context.Context, orderID string, denomination int) (int, error)
	ClaimFree(ctx context.Context, orderID, orderRef string, denomination int) (model.GiftCode, error)
}

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(retryDelays) {
			break
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// CommitError означает, что исход COMMIT неизвестен. Такая ошибка не повторяется.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return "commit tx: " + e.Err.Error()
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

func isRetryable(err error) bool {
	var commitErr *CommitError
	if errors.As(err, &commitErr) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность базы данных.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// ImportCodes добавляет коды номинала в пул. Коды, уже присутствующие в пуле или
// повторяющиеся внутри пакета, отклоняются поштучно, не прерывая импорт.
func (r *PostgresRepository) ImportCodes(ctx context.Context, denomination int, codes []string) (model.ImportResult, error) {
	res := model.ImportResult{Rejected: []model.RejectedCode{}}

	seen := make(map[string]struct{}, len(codes))
	batch := &pgx.Batch{}
	queued := make([]string, 0, len(codes))

	for _, code := range codes {
		if _, dup := seen[code]; dup {
			res.Rejected = append(res.Rejected, model.RejectedCode{Code: code, Reason: RejectDuplicateBatch})
			continue
		}
		seen[code] = struct{}{}

		batch.Queue(
			`INSERT INTO gift_codes (code, denomination) VALUES ($1, $2) ON CONFLICT (code) DO NOTHING`,
			code, denomination,
		)
		queued = append(queued, code)
	}

	if len(queued) == 0 {
		return res, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for _, code := range queued {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return model.ImportResult{}, fmt.Errorf("insert code: %w", err)
		}
		if tag.RowsAffected() == 1 {
			res.Inserted++
		} else {
			res.Rejected = append(res.Rejected, model.RejectedCode{Code: code, Reason: RejectAlreadyInPool})
		}
	}
	if err := br.Close(); err != nil {
		return model.ImportResult{}, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ImportResult{}, fmt.Errorf("commit tx: %w", err)
	}

	return res, nil
}

// WithinClaimTx выполняет fn в одной транзакции уровня READ COMMITTED.
// Любая ошибка fn откатывает все выдачи, сделанные внутри неё.
// При сбое сериализации или взаимной блокировке транзакция повторяется целиком.
// Ошибка COMMIT не повторяется: сервер мог успеть зафиксировать выдачу, и
// повтор вернул бы пустой список кодов вместо выданных.
func (r *PostgresRepository) WithinClaimTx(ctx context.Context, fn func(tx ClaimTx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&claimTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return &CommitError{Err: err}
		}
		return nil
	})
}

type claimTx struct {
	tx pgx.Tx
}

// LockOrder сериализует параллельные выдачи для одного заказа до конца транзакции.
func (c *claimTx) LockOrder(ctx context.Context, orderID string) error {
	if _, err := c.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, orderID); err != nil {
		return fmt.Errorf("lock order: %w", err)
	}
	return nil
}

func (c *claimTx) CountClaimed(ctx context.Context, orderID string, denomination int) (int, error) {
	var n int
	err := c.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM gift_codes WHERE order_id = $1 AND denomination = $2`,
		orderID, denomination,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count claimed: %w", err)
	}
	return n, nil
}

// ClaimFree закрепляет за заказом один свободный код. Строки, заблокированные
// параллельными транзакциями, пропускаются, поэтому два вызова никогда не
// получают один и тот же код.
func (c *claimTx) ClaimFree(ctx context.Context, orderID, orderRef string, denomination int) (model.GiftCode, error) {
	gc := model.GiftCode{OrderID: orderID, OrderRef: orderRef}

	var claimedAt time.Time
	err := c.tx.QueryRow(ctx,
		`UPDATE gift_codes
		 SET order_id = $1, order_ref = $2, claimed_at = now()
		 WHERE id = (
			SELECT id FROM gift_codes
			WHERE denomination = $3 AND order_id IS NULL
			ORDER BY id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		 )
		 RETURNING code, denomination, claimed_at, created_at`,
		orderID, nullIfEmpty(orderRef), denomination,
	).Scan(&gc.Code, &gc.Denomination, &claimedAt, &gc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GiftCode{}, ErrNoFreeCode
		}
		return model.GiftCode{}, fmt.Errorf("claim free code: %w", err)
	}
	gc.ClaimedAt = &claimedAt

	return gc, nil
}

// GetCodesByOrder возвращает коды, выданные заказу.
func (r *PostgresRepository) GetCodesByOrder(ctx context.Context, orderID string) ([]model.GiftCode, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT code, denomination, order_id, COALESCE(order_ref, ''), claimed_at, created_at
		 FROM gift_codes
		 WHERE order_id = $1
		 ORDER BY claimed_at, id`,
		orderID,
	)
	if err != nil {
		return nil, fmt.Errorf("select codes: %w", err)
	}
	defer rows.Close()

	var res []model.GiftCode
	for rows.Next() {
		var gc model.GiftCode
		if err := rows.Scan(&gc.Code, &gc.Denomination, &gc.OrderID, &gc.OrderRef, &gc.ClaimedAt, &gc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		res = append(res, gc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetPoolStats возвращает число свободных и выданных кодов по номиналам.
func (r *PostgresRepository) GetPoolStats(ctx context.Context) ([]model.PoolStat, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT denomination,
		        COUNT(*) FILTER (WHERE order_id IS NULL),
		        COUNT(*) FILTER (WHERE order_id IS NOT NULL)
		 FROM gift_codes
		 GROUP BY denomination
		 ORDER BY denomination`,
	)
	if err != nil {
		return nil, fmt.Errorf("select pool stats: %w", err)
	}
	defer rows.Close()

	var res []model.PoolStat
	for rows.Next() {
		var s model.PoolStat
		if err := rows.Scan(&s.Denomination, &s.Free, &s.Claimed); err != nil {
			return nil, fmt.Errorf("scan pool stat: %w", err)
		}
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// InsertEvent добавляет запись в журнал обработки вебхуков.
func (r *PostgresRepository) InsertEvent(ctx context.Context, e model.FulfillmentEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO fulfillment_events (delivery_id, kind, message, order_id, order_ref, payload)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.DeliveryID, string(e.Kind), e.Message, e.OrderID, e.OrderRef, e.Payload,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// GetEvents возвращает записи журнала, начиная с самых новых.
func (r *PostgresRepository) GetEvents(ctx context.Context, f model.EventFilter) ([]model.FulfillmentEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, delivery_id, kind, message, order_id, order_ref, payload, created_at
		 FROM fulfillment_events
		 WHERE ($1 = '' OR kind = $1)
		   AND ($2 = '' OR order_id = $2)
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3`,
		string(f.Kind), f.OrderID, f.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select events: %w", err)
	}
	defer rows.Close()

	var res []model.FulfillmentEvent
	for rows.Next() {
		var (
			e    model.FulfillmentEvent
			kind string
		)
		if err := rows.Scan(&e.ID, &e.DeliveryID, &kind, &e.Message, &e.OrderID, &e.OrderRef, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = model.EventKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
