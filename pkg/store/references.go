package store

import (
	"context"
	"fmt"
	"time"

	"inkwell/pkg/schema"
)

const (
	DefaultReferenceKeep = 50

	SourceUser = "user"
)

// AddReferenceImage records an image for an entity. It reports false when the
// entity already has that URL.
func (d *DB) AddReferenceImage(ctx context.Context, img *schema.ReferenceImage) (bool, error) {
	if img.CreatedAt.IsZero() {
		img.CreatedAt = time.Now().UTC()
	}
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO reference_images (book_id, entity_type, entity_id, url, thumbnail, width, height, source, is_selected, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entity_type, entity_id, url) DO NOTHING
	`, img.BookID, img.EntityType, img.EntityID, img.URL, img.Thumbnail, img.Width, img.Height, img.Source,
		boolToInt(img.IsSelected), img.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("insert reference image: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	img.ID, err = res.LastInsertId()
	return true, err
}

// ReferenceImages lists an entity's images, newest first.
func (d *DB) ReferenceImages(ctx context.Context, entityType string, entityID int64) ([]schema.ReferenceImage, error) {
	rows, err := d.conn.QueryContext(ctx, `
		SELECT id, book_id, entity_type, entity_id, url, thumbnail, width, height, source, is_selected, created_at
		FROM reference_images WHERE entity_type = ? AND entity_id = ? ORDER BY id DESC
	`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list reference images: %w", err)
	}
	defer rows.Close()

	var out []schema.ReferenceImage
	for rows.Next() {
		var (
			img       schema.ReferenceImage
			selected  int
			createdAt string
		)
		if err := rows.Scan(&img.ID, &img.BookID, &img.EntityType, &img.EntityID, &img.URL, &img.Thumbnail,
			&img.Width, &img.Height, &img.Source, &selected, &createdAt); err != nil {
			return nil, err
		}
		img.IsSelected = selected == 1
		img.CreatedAt = parseTime(createdAt)
		out = append(out, img)
	}
	return out, rows.Err()
}

func (d *DB) SelectReferenceImage(ctx context.Context, id int64, selected bool) error {
	res, err := d.conn.ExecContext(ctx, `UPDATE reference_images SET is_selected = ? WHERE id = ?`, boolToInt(selected), id)
	if err != nil {
		return fmt.Errorf("select reference image: %w", err)
	}
	return expectRow(res, fmt.Sprintf("reference image %d", id))
}

// TrimReferenceImages keeps the newest keep unselected images of an entity.
// Selected images are never removed and do not count against keep.
func (d *DB) TrimReferenceImages(ctx context.Context, entityType string, entityID int64, keep int) (int64, error) {
	if keep <= 0 {
		keep = DefaultReferenceKeep
	}
	res, err := d.conn.ExecContext(ctx, `
		DELETE FROM reference_images
		WHERE entity_type = ? AND entity_id = ? AND is_selected = 0 AND id NOT IN (
			SELECT id FROM reference_images
			WHERE entity_type = ? AND entity_id = ? AND is_selected = 0
			ORDER BY id DESC LIMIT ?
		)
	`, entityType, entityID, entityType, entityID, keep)
	if err != nil {
		return 0, fmt.Errorf("trim reference images: %w", err)
	}
	return res.RowsAffected()
}
