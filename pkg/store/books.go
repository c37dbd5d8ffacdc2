package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inkwell/pkg/schema"
)

const bookColumns = `id, title, author, text, style_category, manuscript_lang, is_well_known, known_adaptations, status, error, created_at`

func (d *DB) CreateBook(ctx context.Context, b *schema.Book) error {
	adaptations, err := marshal(b.KnownAdaptations, "[]")
	if err != nil {
		return err
	}
	if b.Status == "" {
		b.Status = schema.StatusUploaded
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	res, err := d.conn.ExecContext(ctx, `
		INSERT INTO books (title, author, text, style_category, manuscript_lang, is_well_known, known_adaptations, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, b.Title, b.Author, b.Text, b.StyleCategory, b.ManuscriptLang, boolToInt(b.IsWellKnown), adaptations, b.Status, b.Error, b.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert book: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (d *DB) GetBook(ctx context.Context, id int64) (*schema.Book, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	b, err := scanBook(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("book %d", id))
	}
	return b, nil
}

func (d *DB) ListBooks(ctx context.Context) ([]*schema.Book, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*schema.Book
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, b)
	}
	return books, rows.Err()
}

// SetBookStatus records the analysis state. errMsg is cleared when empty.
func (d *DB) SetBookStatus(ctx context.Context, id int64, status, errMsg string) error {
	res, err := d.conn.ExecContext(ctx, `UPDATE books SET status = ?, error = ? WHERE id = ?`, status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update book status: %w", err)
	}
	return expectRow(res, fmt.Sprintf("book %d", id))
}

// SetBookStyle stores the style category derived from analysis.
func (d *DB) SetBookStyle(ctx context.Context, id int64, style string) error {
	_, err := d.conn.ExecContext(ctx, `UPDATE books SET style_category = ? WHERE id = ?`, style, id)
	if err != nil {
		return fmt.Errorf("update book style: %w", err)
	}
	return nil
}

func (d *DB) DeleteBook(ctx context.Context, id int64) error {
	res, err := d.conn.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	return expectRow(res, fmt.Sprintf("book %d", id))
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(s scanner) (*schema.Book, error) {
	var (
		b           schema.Book
		wellKnown   int
		adaptations string
		createdAt   string
	)
	if err := s.Scan(&b.ID, &b.Title, &b.Author, &b.Text, &b.StyleCategory, &b.ManuscriptLang, &wellKnown, &adaptations, &b.Status, &b.Error, &createdAt); err != nil {
		return nil, err
	}
	b.IsWellKnown = wellKnown == 1
	if err := json.Unmarshal([]byte(adaptations), &b.KnownAdaptations); err != nil {
		return nil, fmt.Errorf("decode known_adaptations: %w", err)
	}
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}

func expectRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func marshal(v any, empty string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode column: %w", err)
	}
	if string(data) == "null" {
		return empty, nil
	}
	return string(data), nil
}

func unmarshal[T any](s sql.NullString, dst *T) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.String), dst); err != nil {
		return fmt.Errorf("decode column: %w", err)
	}
	return nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, time.DateTime} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
