package repository

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/market-feed-service/internal/entity"
)

var feedSubscriptionTable = entity.FeedSubscription{}.TableName()

type FeedSubscriptionRepository struct {
	db *sqlx.DB
}

func NewFeedSubscriptionRepository(db *sqlx.DB) *FeedSubscriptionRepository {
	return &FeedSubscriptionRepository{db: db}
}

func selectFeedSubscriptions(activeOnly bool) sq.SelectBuilder {
	builder := sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("id", "instrument_key", "description", "created_at", "updated_at", "disabled_at").
		From(feedSubscriptionTable).
		OrderBy("created_at ASC")

	if activeOnly {
		builder = builder.Where(sq.Eq{"disabled_at": nil})
	}

	return builder
}

func upsertFeedSubscription(data *entity.FeedSubscription) sq.InsertBuilder {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(feedSubscriptionTable).
		Columns("id", "instrument_key", "description", "created_at", "updated_at").
		Values(data.ID, data.InstrumentKey, data.Description, data.CreatedAt, data.UpdatedAt).
		Suffix(`ON CONFLICT (instrument_key)
DO UPDATE SET
	description = COALESCE(EXCLUDED.description, feed_subscriptions.description),
	updated_at = EXCLUDED.updated_at,
	disabled_at = NULL
RETURNING id, instrument_key, description, created_at, updated_at, disabled_at`)
}

func disableFeedSubscription(instrumentKey string, now time.Time) sq.UpdateBuilder {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Update(feedSubscriptionTable).
		Set("disabled_at", now).
		Set("updated_at", now).
		Where(sq.And{
			sq.Eq{"instrument_key": instrumentKey},
			sq.Eq{"disabled_at": nil},
		})
}

// GetActive returns the watchlist the gateway subscribes on start.
func (r *FeedSubscriptionRepository) GetActive(ctx context.Context) ([]entity.FeedSubscription, error) {
	return r.selectAll(ctx, selectFeedSubscriptions(true))
}

func (r *FeedSubscriptionRepository) GetAll(ctx context.Context) ([]entity.FeedSubscription, error) {
	return r.selectAll(ctx, selectFeedSubscriptions(false))
}

func (r *FeedSubscriptionRepository) selectAll(ctx context.Context, builder sq.SelectBuilder) ([]entity.FeedSubscription, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, err
	}

	subscriptions := make([]entity.FeedSubscription, 0)
	err = r.db.SelectContext(ctx, &subscriptions, query, args...)
	return subscriptions, err
}

// Upsert adds instrumentKey to the watchlist, re-enabling it when it was disabled.
func (r *FeedSubscriptionRepository) Upsert(ctx context.Context, instrumentKey entity.InstrumentKey, description string) (*entity.FeedSubscription, error) {
	if !instrumentKey.Valid() {
		return nil, entity.ErrInvalidInstrumentKey
	}

	now := time.Now().UTC()
	data := &entity.FeedSubscription{
		ID:            uuid.NewString(),
		InstrumentKey: instrumentKey.String(),
		Description:   null.NewString(description, description != ""),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	query, args, err := upsertFeedSubscription(data).ToSql()
	if err != nil {
		return nil, err
	}

	stored := &entity.FeedSubscription{}
	if err := r.db.GetContext(ctx, stored, query, args...); err != nil {
		return nil, err
	}

	return stored, nil
}

// Disable removes instrumentKey from the active watchlist. It reports false
// when the key was not active.
func (r *FeedSubscriptionRepository) Disable(ctx context.Context, instrumentKey entity.InstrumentKey) (bool, error) {
	query, args, err := disableFeedSubscription(instrumentKey.String(), time.Now().UTC()).ToSql()
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}
