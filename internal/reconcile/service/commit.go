package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vape-recon/internal/storage"
)

// TxBeginner: всё, что нужно Committer от хранилища.
type TxBeginner interface {
	Begin(ctx context.Context) (storage.Tx, error)
}

// TxFunc выполняет работу внутри транзакции. Может вызываться повторно.
type TxFunc func(ctx context.Context, tx storage.Tx) error

// Committer: атомарная фиксация с ограниченным числом повторов.
type Committer struct {
	store   TxBeginner
	opt     commitOptions
	limiter *rate.Limiter
	log     zerolog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

type commitOptions struct {
	retryLimit int
	backoff    time.Duration
	backoffMax time.Duration
	timeout    time.Duration
}

func NewCommitter(store TxBeginner, retryLimit int, backoff, backoffMax, timeout time.Duration, rps float64, log zerolog.Logger) *Committer {
	c := &Committer{
		store: store,
		opt:   commitOptions{retryLimit: retryLimit, backoff: backoff, backoffMax: backoffMax, timeout: timeout},
		log:   log,
		sleep: sleepCtx,
	}
	if rps > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return c
}

// Commit выполняет fn в транзакции. Конфликт уникальности и недоступность
// повторяются с экспоненциальной паузой; возвращает число попыток.
// Отмена ctx не прерывает начатую транзакцию: она либо фиксируется, либо
// откатывается по таймауту.
func (c *Committer) Commit(ctx context.Context, fn TxFunc) (int, error) {
	var err error
	attempts := 0
	for attempt := 0; attempt <= c.opt.retryLimit; attempt++ {
		if attempt > 0 {
			if serr := c.sleep(ctx, c.backoff(attempt)); serr != nil {
				return attempts, fmt.Errorf("%w (last: %w)", serr, err)
			}
		}
		if c.limiter != nil {
			if werr := c.limiter.Wait(ctx); werr != nil {
				return attempts, werr
			}
		}
		attempts++
		err = c.once(ctx, fn)
		if err == nil {
			return attempts, nil
		}
		if !storage.Retryable(err) {
			return attempts, err
		}
		c.log.Debug().Err(err).Int("attempt", attempts).Msg("commit retry")
	}
	return attempts, fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err)
}

func (c *Committer) once(parent context.Context, fn TxFunc) (err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.opt.timeout)
	defer cancel()

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return timeoutAsUnavailable(ctx, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(ctx, tx); err != nil {
		return timeoutAsUnavailable(ctx, err)
	}
	if err = tx.Commit(); err != nil {
		return timeoutAsUnavailable(ctx, err)
	}
	return nil
}

// таймаут попытки - повод повторить, а не фатальная ошибка
func timeoutAsUnavailable(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, storage.ErrUnavailable) {
		return fmt.Errorf("%w: %w", storage.ErrUnavailable, err)
	}
	return err
}

func (c *Committer) backoff(attempt int) time.Duration {
	d := c.opt.backoff << (attempt - 1)
	if d <= 0 || (c.opt.backoffMax > 0 && d > c.opt.backoffMax) {
		d = c.opt.backoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
