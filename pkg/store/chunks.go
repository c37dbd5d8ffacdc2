package store

import (
	"context"
	"database/sql"
	"fmt"

	"inkwell/pkg/schema"
)

// ReplaceChunks stores the book's text chunks, replacing any previous split.
func (d *DB) ReplaceChunks(ctx context.Context, bookID int64, chunks []schema.Chunk) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE book_id = ?`, bookID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		for _, ch := range chunks {
			if _, err := tx.ExecContext(ctx, `INSERT INTO chunks (book_id, chunk_index, text) VALUES (?, ?, ?)`, bookID, ch.Index, ch.Text); err != nil {
				return fmt.Errorf("insert chunk %d: %w", ch.Index, err)
			}
		}
		return nil
	})
}

func (d *DB) Chunks(ctx context.Context, bookID int64) ([]schema.Chunk, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT chunk_index, text FROM chunks WHERE book_id = ? ORDER BY chunk_index`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []schema.Chunk
	for rows.Next() {
		var ch schema.Chunk
		if err := rows.Scan(&ch.Index, &ch.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, ch)
	}
	return chunks, rows.Err()
}

// ReplaceChunkAnalyses swaps every stored analysis of the book in one transaction.
func (d *DB) ReplaceChunkAnalyses(ctx context.Context, bookID int64, analyses []schema.ChunkAnalysis) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunk_analyses WHERE book_id = ?`, bookID); err != nil {
			return fmt.Errorf("clear chunk analyses: %w", err)
		}
		for _, ca := range analyses {
			chars, err := marshal(ca.CharactersPresent, "[]")
			if err != nil {
				return err
			}
			locs, err := marshal(ca.LocationsPresent, "[]")
			if err != nil {
				return err
			}
			layers, err := marshal(ca.VisualLayers, "{}")
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chunk_analyses (book_id, chunk_index, dramatic_score, visual_density, narrative_position, characters_present, locations_present, visual_layers, visual_moment)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT (book_id, chunk_index) DO NOTHING
			`, bookID, ca.ChunkIndex, ca.DramaticScore, ca.VisualDensity, ca.NarrativePosition, chars, locs, layers, ca.VisualMoment); err != nil {
				return fmt.Errorf("insert chunk analysis %d: %w", ca.ChunkIndex, err)
			}
		}
		return nil
	})
}

func (d *DB) ChunkAnalyses(ctx context.Context, bookID int64) ([]schema.ChunkAnalysis, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT chunk_index, dramatic_score, visual_density, narrative_position, characters_present, locations_present, visual_layers, visual_moment
		FROM chunk_analyses WHERE book_id = ? ORDER BY chunk_index
	`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chunk analyses: %w", err)
	}
	defer rows.Close()

	var out []schema.ChunkAnalysis
	for rows.Next() {
		var (
			ca                  schema.ChunkAnalysis
			chars, locs, layers sql.NullString
		)
		if err := rows.Scan(&ca.ChunkIndex, &ca.DramaticScore, &ca.VisualDensity, &ca.NarrativePosition, &chars, &locs, &layers, &ca.VisualMoment); err != nil {
			return nil, err
		}
		if err := unmarshal(chars, &ca.CharactersPresent); err != nil {
			return nil, err
		}
		if err := unmarshal(locs, &ca.LocationsPresent); err != nil {
			return nil, err
		}
		if err := unmarshal(layers, &ca.VisualLayers); err != nil {
			return nil, err
		}
		if len(ca.VisualLayers) == 0 {
			ca.VisualLayers = nil
		}
		out = append(out, ca)
	}
	return out, rows.Err()
}
