// Package sqlite предоставляет инфраструктуру SQLite для журнала проверок.
//
// Основные возможности:
// - Открытие БД (modernc.org/sqlite) с PRAGMA и режимом блокировки в DSN
// - Транзакции с повтором на SQLITE_BUSY по политике retry.Retry
// - Очередь записи для сериализации писателей
// - Миграции golang-migrate из встроенной файловой системы (iofs)
// - Тестовые хелперы
//
// # Быстрый старт
//
//	db, err := sqlite.NewDB(ctx, "data/journal.db")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	//go:embed migrations/*.sql
//	var migrations embed.FS
//
//	err = sqlite.ApplyMigrations(db, migrations, "migrations")
//
// # Транзакции
//
//	runner := sqlite.NewTxRunner(db)
//	defer runner.Close()
//	err = runner.WithinTx(ctx, func(ctx context.Context) error {
//		_, err := runner.GetQuerier(ctx).ExecContext(ctx, "DELETE FROM attempts WHERE at < ?", cutoff)
//		return err
//	})
//
// Политику повторов можно заменить:
//
//	runner.Retry = sqlite.BusyRetry().RetryMax(5)
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		testDB := sqlite.NewTestDBInMemory(t)
//		testDB.ApplyTestMigrations(t, migrations, "migrations")
//	}
package sqlite
