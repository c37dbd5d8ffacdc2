package store

import (
	"context"
	"database/sql"
	"fmt"

	"inkwell/pkg/schema"
)

func entityTable(entityType string) (string, error) {
	switch entityType {
	case schema.EntityCharacter:
		return "characters", nil
	case schema.EntityLocation:
		return "locations", nil
	}
	return "", fmt.Errorf("unknown entity type %q", entityType)
}

// ReplaceEntities swaps every character or location of the book in one
// transaction and fills in the new ids.
func (d *DB) ReplaceEntities(ctx context.Context, bookID int64, entityType string, entities []schema.Entity) error {
	table, err := entityTable(entityType)
	if err != nil {
		return err
	}
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM reference_images WHERE book_id = ? AND entity_type = ?`, bookID, entityType); err != nil {
			return fmt.Errorf("clear %s references: %w", table, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE book_id = ?`, bookID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
		for i := range entities {
			e := &entities[i]
			ont, err := marshal(e.Ontology, "")
			if err != nil {
				return err
			}
			tok, err := marshal(e.Tokens, "")
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO `+table+` (book_id, name, description, visual_type, role, ontology, tokens, is_main)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, bookID, e.Name, e.Description, e.VisualType, e.Role, nullIfEmpty(ont), nullIfEmpty(tok), boolToInt(e.IsMain))
			if err != nil {
				return fmt.Errorf("insert %s %q: %w", entityType, e.Name, err)
			}
			if e.ID, err = res.LastInsertId(); err != nil {
				return err
			}
			e.BookID = bookID
			e.Type = entityType
		}
		return nil
	})
}

// UpdateEntityVisuals stores the ontology and tokens derived for one entity.
func (d *DB) UpdateEntityVisuals(ctx context.Context, entityType string, id int64, ont *schema.EntityOntology, tokens *schema.EntityVisualTokens) error {
	table, err := entityTable(entityType)
	if err != nil {
		return err
	}
	o, err := marshal(ont, "")
	if err != nil {
		return err
	}
	t, err := marshal(tokens, "")
	if err != nil {
		return err
	}
	res, err := d.conn.ExecContext(ctx, `UPDATE `+table+` SET ontology = ?, tokens = ? WHERE id = ?`, nullIfEmpty(o), nullIfEmpty(t), id)
	if err != nil {
		return fmt.Errorf("update %s visuals: %w", entityType, err)
	}
	return expectRow(res, fmt.Sprintf("%s %d", entityType, id))
}

// Entities lists the book's characters or locations in insertion order.
func (d *DB) Entities(ctx context.Context, bookID int64, entityType string, mainOnly bool) ([]schema.Entity, error) {
	table, err := entityTable(entityType)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, name, description, visual_type, role, ontology, tokens, is_main FROM ` + table + ` WHERE book_id = ?`
	if mainOnly {
		query += ` AND is_main = 1`
	}
	rows, err := d.conn.QueryContext(ctx, query+` ORDER BY id`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []schema.Entity
	for rows.Next() {
		var (
			e        = schema.Entity{BookID: bookID, Type: entityType}
			ont, tok sql.NullString
			isMain   int
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.VisualType, &e.Role, &ont, &tok, &isMain); err != nil {
			return nil, err
		}
		if ont.Valid {
			e.Ontology = new(schema.EntityOntology)
			if err := unmarshal(ont, e.Ontology); err != nil {
				return nil, err
			}
		}
		if tok.Valid {
			e.Tokens = new(schema.EntityVisualTokens)
			if err := unmarshal(tok, e.Tokens); err != nil {
				return nil, err
			}
		}
		e.IsMain = isMain == 1
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
