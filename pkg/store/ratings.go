package store

import (
	"context"
	"fmt"
	"strings"

	"inkwell/pkg/schema"
)

const (
	ActionLike    = "like"
	ActionDislike = "dislike"
)

// RateEngine adds one like or dislike for provider. Concurrent votes are safe:
// the counter lives in a single upsert on UNIQUE(book_id, provider).
func (d *DB) RateEngine(ctx context.Context, bookID int64, provider, action string) (schema.EngineRating, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return schema.EngineRating{}, fmt.Errorf("provider is required")
	}
	var like, dislike int
	switch action {
	case ActionLike:
		like = 1
	case ActionDislike:
		dislike = 1
	default:
		return schema.EngineRating{}, fmt.Errorf("unknown rating action %q", action)
	}

	r := schema.EngineRating{BookID: bookID, Provider: provider}
	err := d.conn.QueryRowContext(ctx, `
		INSERT INTO engine_ratings (book_id, provider, likes, dislikes) VALUES (?, ?, ?, ?)
		ON CONFLICT (book_id, provider) DO UPDATE SET
			likes = likes + excluded.likes,
			dislikes = dislikes + excluded.dislikes
		RETURNING likes, dislikes
	`, bookID, provider, like, dislike).Scan(&r.Likes, &r.Dislikes)
	if err != nil {
		return schema.EngineRating{}, fmt.Errorf("rate engine: %w", err)
	}
	return r, nil
}

func (d *DB) ListEngineRatings(ctx context.Context, bookID int64) ([]schema.EngineRating, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT provider, likes, dislikes FROM engine_ratings WHERE book_id = ? ORDER BY provider`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list engine ratings: %w", err)
	}
	defer rows.Close()

	var out []schema.EngineRating
	for rows.Next() {
		r := schema.EngineRating{BookID: bookID}
		if err := rows.Scan(&r.Provider, &r.Likes, &r.Dislikes); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// EngineRatings maps provider to net score for the engine selector.
func (d *DB) EngineRatings(ctx context.Context, bookID int64) (map[string]int, error) {
	list, err := d.ListEngineRatings(ctx, bookID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(list))
	for _, r := range list {
		out[r.Provider] = r.NetScore()
	}
	return out, nil
}
