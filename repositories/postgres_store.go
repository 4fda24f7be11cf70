package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"
)

type postgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a Store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func newPostgresRepositories(exec SQLExecutor) Repositories {
	return Repositories{
		Events:        &postgresEventRepository{exec: exec},
		Registrations: &postgresRegistrationRepository{exec: exec},
		CheckIns:      &postgresCheckInRepository{exec: exec},
		Provenance:    &postgresProvenanceRepository{exec: exec},
		Seasons:       &postgresSeasonRepository{exec: exec},
		Sessions:      &postgresSessionRepository{exec: exec},
		Results:       &postgresResultRepository{exec: exec},
	}
}

func (s *postgresStore) Repos() Repositories {
	return newPostgresRepositories(s.db)
}

// Audit пишет через основной пул соединений, вне транзакции бизнес-операции.
func (s *postgresStore) Audit() AuditRepository {
	return &postgresAuditRepository{exec: s.db}
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// txBeginner - *sql.DB или выделенное *sql.Conn.
type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

func (s *postgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return runPostgresTx(ctx, s.db, fn)
}

// eventLockNamespace - первый ключ pg_advisory_lock для блокировок событий.
const eventLockNamespace = 7101

// WithinEventLock берёт сессионную advisory-блокировку события на выделенном
// соединении и только потом открывает транзакцию: снимок repeatable read
// делается после того, как предыдущий владелец уже закоммитил.
func (s *postgresStore) WithinEventLock(ctx context.Context, eventID int, fn func(ctx context.Context, repos Repositories) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to acquire connection: %v", ErrStoreUnavailable, err)
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1, $2)`, eventLockNamespace, eventID); err != nil {
		return fmt.Errorf("failed to lock event %d: %w", eventID, mapTxError(err))
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, uerr := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock($1, $2)`, eventLockNamespace, eventID); uerr != nil {
			// соединение с висящей блокировкой не должно вернуться в пул
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
	}()

	return runPostgresTx(ctx, conn, fn)
}

func runPostgresTx(ctx context.Context, db txBeginner, fn func(ctx context.Context, repos Repositories) error) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrStoreUnavailable, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, newPostgresRepositories(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback also failed: %v)", mapTxError(err), rbErr)
		}
		return mapTxError(err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", mapTxError(err))
	}
	return nil
}
