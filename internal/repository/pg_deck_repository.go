package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"flashcard-server/internal/models"
)

// Compile-time check
var _ DeckRepository = (*pgDeckRepository)(nil)

type pgDeckRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgDeckRepository создает репозиторий колод поверх PostgreSQL.
// Принимает пул, а не DBTX: CreateWithCards открывает собственную транзакцию.
func NewPgDeckRepository(pool *pgxpool.Pool, logger *zap.Logger) DeckRepository {
	return &pgDeckRepository{
		pool:   pool,
		logger: logger.Named("PgDeckRepo"),
	}
}

// CreateWithCards сохраняет колоду и ее карточки одной транзакцией.
// Позиция карточки - ее индекс в переданном срезе.
func (r *pgDeckRepository) CreateWithCards(ctx context.Context, deck *models.Deck, cards []models.Flashcard) error {
	logFields := []zap.Field{zap.String("deckID", deck.ID.String()), zap.Int("cards", len(cards))}
	r.logger.Debug("Creating deck with cards", logFields...)

	err := WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		deckQuery := `
            INSERT INTO decks (id, user_id, task_id, title, card_count, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)
        `
		if _, err := tx.Exec(ctx, deckQuery,
			deck.ID, deck.UserID, deck.TaskID, deck.Title, len(cards), deck.CreatedAt,
		); err != nil {
			return fmt.Errorf("ошибка создания колоды: %w", err)
		}

		rows := make([][]any, 0, len(cards))
		now := time.Now().UTC()
		for i, card := range cards {
			rows = append(rows, []any{uuid.New(), deck.ID, i, card.Front, card.Back, now})
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"cards"},
			[]string{"id", "deck_id", "position", "front", "back", "created_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("ошибка вставки карточек: %w", err)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("Failed to create deck with cards", append(logFields, zap.Error(err))...)
		return err
	}
	r.logger.Info("Deck created", logFields...)
	return nil
}

// GetByID возвращает колоду по идентификатору.
func (r *pgDeckRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Deck, error) {
	query := `
        SELECT id, user_id, task_id, title, card_count, created_at
        FROM decks
        WHERE id = $1
    `
	deck := &models.Deck{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&deck.ID, &deck.UserID, &deck.TaskID, &deck.Title, &deck.CardCount, &deck.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Warn("Deck not found by ID", zap.String("deckID", id.String()))
			return nil, models.ErrDeckNotFound
		}
		r.logger.Error("Failed to get deck by ID", zap.String("deckID", id.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения колоды: %w", err)
	}
	return deck, nil
}

// GetCards возвращает карточки колоды в порядке позиций.
func (r *pgDeckRepository) GetCards(ctx context.Context, deckID uuid.UUID) ([]models.Card, error) {
	query := `
        SELECT id, deck_id, position, front, back, created_at
        FROM cards
        WHERE deck_id = $1
        ORDER BY position
    `
	var cards []models.Card
	err := pgxscan.Select(ctx, r.pool, &cards, query, deckID)
	if err != nil {
		r.logger.Error("Failed to get deck cards", zap.String("deckID", deckID.String()), zap.Error(err))
		return nil, fmt.Errorf("ошибка получения карточек колоды: %w", err)
	}
	return cards, nil
}
