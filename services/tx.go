package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Dosada05/club-engine/repositories"
)

// DefaultTxRetries - бюджет попыток для сервисов без собственной настройки.
const DefaultTxRetries = 5

const (
	retryInitialInterval = 5 * time.Millisecond
	retryMaxInterval     = 250 * time.Millisecond
	retryMaxElapsed      = 10 * time.Second
)

// newTxBackOff - экспоненциальная пауза с джиттером, чтобы конкуренты не
// просыпались одновременно.
func newTxBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	return b
}

// runWithRetry повторяет единицу работы при конфликте сериализации или дедлоке.
// Остальные ошибки возвращаются сразу.
func runWithRetry(ctx context.Context, store repositories.Store, maxRetries int, logger *slog.Logger, fn func(ctx context.Context, repos repositories.Repositories) error) error {
	return retryTx(ctx, maxRetries, logger, func() error {
		return store.WithinTx(ctx, fn)
	})
}

// runEventTx - то же самое, но под блокировкой события: конкурирующие вызовы
// по одному событию выстраиваются в очередь, а не откатываются.
func runEventTx(ctx context.Context, store repositories.Store, eventID, maxRetries int, logger *slog.Logger, fn func(ctx context.Context, repos repositories.Repositories) error) error {
	return retryTx(ctx, maxRetries, logger, func() error {
		return store.WithinEventLock(ctx, eventID, fn)
	})
}

func retryTx(ctx context.Context, maxRetries int, logger *slog.Logger, run func() error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := run()
		if err != nil && !errors.Is(err, repositories.ErrSerialization) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(newTxBackOff()),
		backoff.WithMaxTries(uint(maxRetries)),
		backoff.WithMaxElapsedTime(retryMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WarnContext(ctx, "transaction conflict, retrying",
				slog.Int("attempt", attempt), slog.Duration("backoff", next), slog.Any("error", err))
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	if errors.Is(err, repositories.ErrSerialization) {
		return fmt.Errorf("transaction did not settle after %d attempts: %w", attempt, err)
	}
	return err
}
