package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"flashcard-server/internal/models"
)

// Compile-time check
var _ CreditRepository = (*pgCreditRepository)(nil)

type pgCreditRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgCreditRepository создает репозиторий биллинга поверх PostgreSQL.
func NewPgCreditRepository(pool *pgxpool.Pool, logger *zap.Logger) CreditRepository {
	return &pgCreditRepository{
		pool:   pool,
		logger: logger.Named("PgCreditRepo"),
	}
}

// GetBalance возвращает текущий баланс пользователя.
func (r *pgCreditRepository) GetBalance(ctx context.Context, userID uuid.UUID) (float64, error) {
	query := `SELECT balance FROM users WHERE id = $1`
	var balance float64
	err := r.pool.QueryRow(ctx, query, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, models.ErrUserNotFound
		}
		r.logger.Error("Failed to get user balance", zap.String("userID", userID.String()), zap.Error(err))
		return 0, fmt.Errorf("ошибка получения баланса: %w", err)
	}
	return balance, nil
}

// Debit списывает кредиты за фазу задачи. Запись леджера и уменьшение
// баланса происходят в одной транзакции; UNIQUE(task_id, phase) делает
// повторное списание no-op'ом.
func (r *pgCreditRepository) Debit(ctx context.Context, userID, taskID uuid.UUID, phase string, amount float64) (bool, error) {
	logFields := []zap.Field{
		zap.String("userID", userID.String()),
		zap.String("taskID", taskID.String()),
		zap.String("phase", phase),
		zap.Float64("amount", amount),
	}
	r.logger.Debug("Debiting credits", logFields...)

	debited := false
	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		// Сначала запись в леджер: конфликт означает, что эта фаза
		// уже оплачена, и баланс трогать нельзя.
		ledgerQuery := `
            INSERT INTO credit_ledger (id, user_id, task_id, phase, amount, created_at)
            VALUES ($1, $2, $3, $4, $5, NOW())
            ON CONFLICT (task_id, phase) DO NOTHING
        `
		tag, err := tx.Exec(ctx, ledgerQuery, uuid.New(), userID, taskID, phase, amount)
		if err != nil {
			return fmt.Errorf("ошибка записи в леджер списаний: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil // уже списано
		}

		// Условное уменьшение: баланс не уходит в минус.
		balanceQuery := `
            UPDATE users
            SET balance = balance - $1
            WHERE id = $2 AND balance >= $1
        `
		tag, err = tx.Exec(ctx, balanceQuery, amount, userID)
		if err != nil {
			return fmt.Errorf("ошибка списания с баланса: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// Либо пользователя нет, либо средств не хватает.
			// Откат транзакции убирает и запись леджера.
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
				return fmt.Errorf("ошибка проверки пользователя: %w", err)
			}
			if !exists {
				return models.ErrUserNotFound
			}
			return models.ErrInsufficientCredits
		}
		debited = true
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientCredits) {
			r.logger.Warn("Insufficient credits for debit", logFields...)
		} else {
			r.logger.Error("Failed to debit credits", append(logFields, zap.Error(err))...)
		}
		return false, err
	}
	if debited {
		r.logger.Info("Credits debited", logFields...)
	} else {
		r.logger.Info("Debit skipped, phase already paid", logFields...)
	}
	return debited, nil
}

// Credit пополняет баланс пользователя.
func (r *pgCreditRepository) Credit(ctx context.Context, userID uuid.UUID, amount float64) error {
	query := `UPDATE users SET balance = balance + $1 WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, amount, userID)
	if err != nil {
		r.logger.Error("Failed to credit user", zap.String("userID", userID.String()), zap.Error(err))
		return fmt.Errorf("ошибка пополнения баланса: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	r.logger.Info("Credits added", zap.String("userID", userID.String()), zap.Float64("amount", amount))
	return nil
}
