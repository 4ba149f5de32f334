package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"time"

	"resilience/pkg/retry"
)

// txKey используется как ключ для хранения транзакции в context.Context
type txKey struct{}

// Querier объединяет методы выполнения запросов, общие для БД и транзакции.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// ErrNestedTx возвращается при попытке открыть транзакцию внутри транзакции.
var ErrNestedTx = errors.New("sqlite: nested transactions are not supported")

// writeRequest представляет запрос на выполнение операции записи в очереди
type writeRequest struct {
	fn       func(context.Context) error
	resultCh chan error
	ctx      context.Context
}

// TxRunner выполняет функции внутри транзакции с повтором на SQLITE_BUSY.
// Повторы описываются политикой retry.Retry, по умолчанию BusyRetry.
type TxRunner struct {
	DB    *sql.DB
	Retry retry.Retry[struct{}]

	writeQueue     chan writeRequest
	writeQueueDone chan struct{}
	enableQueue    bool
}

// BusyRetry повторяет транзакцию до двух раз, пока база занята.
func BusyRetry() retry.Retry[struct{}] {
	return retry.OnlyIf(func(c retry.Context[struct{}]) bool {
		return IsBusy(c.Err())
	}).
		RetryMax(2).
		ExponentialBackoff(10*time.Millisecond, 500*time.Millisecond)
}

// NewTxRunner создает TxRunner с настройками по умолчанию.
func NewTxRunner(db *sql.DB) *TxRunner {
	return NewTxRunnerWithOptions(db, DefaultDBOptions())
}

// NewTxRunnerWithOptions создает TxRunner; при EnableWriteQueue записи
// выполняются по одной в отдельной горутине.
func NewTxRunnerWithOptions(db *sql.DB, opts DBOptions) *TxRunner {
	runner := &TxRunner{
		DB:          db,
		Retry:       BusyRetry(),
		enableQueue: opts.EnableWriteQueue,
	}

	if opts.EnableWriteQueue {
		size := opts.WriteQueueSize
		if size <= 0 {
			size = 100
		}
		runner.writeQueue = make(chan writeRequest, size)
		runner.writeQueueDone = make(chan struct{})
		go runner.runWriteQueue()
	}

	return runner
}

// WithLogger направляет логи политики повторов в l.
func (r *TxRunner) WithLogger(l *slog.Logger) *TxRunner {
	r.Retry = r.Retry.WithLogger(l)
	return r
}

// Close закрывает очередь записи, если она активна.
func (r *TxRunner) Close() error {
	if r.enableQueue && r.writeQueue != nil {
		close(r.writeQueue)
		<-r.writeQueueDone
	}
	return nil
}

// WithinTx выполняет fn внутри транзакции. Ошибка fn откатывает транзакцию,
// успех коммитит. Внутри fn транзакция доступна через GetQuerier.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return ErrNestedTx
	}
	if r.enableQueue {
		return r.enqueueWrite(ctx, fn)
	}
	return r.executeWithRetry(ctx, fn)
}

// GetQuerier возвращает транзакцию из ctx или основное подключение.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.DB
}

// runWriteQueue обрабатывает очередь операций записи в отдельной goroutine.
func (r *TxRunner) runWriteQueue() {
	defer close(r.writeQueueDone)

	for req := range r.writeQueue {
		if err := req.ctx.Err(); err != nil {
			req.resultCh <- err
		} else {
			req.resultCh <- r.executeWithRetry(req.ctx, req.fn)
		}
		close(req.resultCh)
	}
}

// enqueueWrite добавляет операцию записи в очередь и ждет результат.
func (r *TxRunner) enqueueWrite(ctx context.Context, fn func(context.Context) error) error {
	req := writeRequest{
		fn:       fn,
		resultCh: make(chan error, 1),
		ctx:      ctx,
	}

	select {
	case r.writeQueue <- req:
		select {
		case err := <-req.resultCh:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// executeWithRetry выполняет транзакцию под политикой r.Retry.
func (r *TxRunner) executeWithRetry(ctx context.Context, fn func(context.Context) error) error {
	return r.Retry.Do(ctx, func(ctx context.Context) error {
		return r.executeTx(ctx, fn)
	})
}

// executeTx выполняет одну попытку транзакции. Режим блокировки задается
// параметром _txlock в DSN.
func (r *TxRunner) executeTx(ctx context.Context, fn func(context.Context) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsBusy проверяет, является ли ошибка SQLITE_BUSY или SQLITE_LOCKED.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database table is locked")
}
