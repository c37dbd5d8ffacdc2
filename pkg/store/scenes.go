package store

import (
	"context"
	"database/sql"
	"fmt"

	"inkwell/pkg/schema"
)

const sceneColumns = `id, title, title_display, scene_type, chunk_start_index, chunk_end_index, narrative_summary,
	narrative_summary_display, visual_description, characters_present, primary_location, visual_intensity,
	illustration_priority, scene_prompt_draft, scene_visual_tokens, t2i_prompt_json, is_selected`

// ReplaceScenes deletes every scene of the book and inserts scenes in order,
// all in one transaction. The new ids are written back into scenes.
func (d *DB) ReplaceScenes(ctx context.Context, bookID int64, scenes []schema.Scene) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM scenes WHERE book_id = ?`, bookID); err != nil {
			return fmt.Errorf("clear scenes: %w", err)
		}
		for i := range scenes {
			s := &scenes[i]
			chars, err := marshal(s.CharactersPresent, "[]")
			if err != nil {
				return err
			}
			tokens, err := marshal(s.SceneVisualTokens, "{}")
			if err != nil {
				return err
			}
			prompt, err := marshal(s.T2IPrompt, "{}")
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, `
				INSERT INTO scenes (book_id, position, title, title_display, scene_type, chunk_start_index, chunk_end_index,
					narrative_summary, narrative_summary_display, visual_description, characters_present, primary_location,
					visual_intensity, illustration_priority, scene_prompt_draft, scene_visual_tokens, t2i_prompt_json, is_selected)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, bookID, i, s.Title, s.TitleDisplay, s.SceneType, s.ChunkStartIndex, s.ChunkEndIndex,
				s.NarrativeSummary, s.NarrativeSummaryDisplay, s.VisualDescription, chars, s.PrimaryLocation,
				s.VisualIntensity, s.IllustrationPriority, s.ScenePromptDraft, tokens, prompt, boolToInt(s.IsSelected))
			if err != nil {
				return fmt.Errorf("insert scene %d: %w", i, err)
			}
			if s.ID, err = res.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) Scenes(ctx context.Context, bookID int64) ([]schema.Scene, error) {
	rows, err := d.conn.QueryContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE book_id = ? ORDER BY position`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	var out []schema.Scene
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (d *DB) GetScene(ctx context.Context, bookID, sceneID int64) (schema.Scene, error) {
	row := d.conn.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE book_id = ? AND id = ?`, bookID, sceneID)
	s, err := scanScene(row)
	if err != nil {
		return schema.Scene{}, notFound(err, fmt.Sprintf("scene %d", sceneID))
	}
	return s, nil
}

// ScenePatch holds the user-editable scene fields; nil leaves a field unchanged.
type ScenePatch struct {
	Title            *string `json:"title"`
	ScenePromptDraft *string `json:"scene_prompt_draft"`
	IsSelected       *bool   `json:"is_selected"`
}

func (d *DB) UpdateScene(ctx context.Context, bookID, sceneID int64, p ScenePatch) (schema.Scene, error) {
	var s schema.Scene
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE book_id = ? AND id = ?`, bookID, sceneID)
		cur, err := scanScene(row)
		if err != nil {
			return notFound(err, fmt.Sprintf("scene %d", sceneID))
		}
		if p.Title != nil {
			cur.Title = *p.Title
		}
		if p.ScenePromptDraft != nil {
			cur.ScenePromptDraft = *p.ScenePromptDraft
		}
		if p.IsSelected != nil {
			cur.IsSelected = *p.IsSelected
		}
		if _, err := tx.ExecContext(ctx, `UPDATE scenes SET title = ?, scene_prompt_draft = ?, is_selected = ? WHERE id = ?`,
			cur.Title, cur.ScenePromptDraft, boolToInt(cur.IsSelected), sceneID); err != nil {
			return fmt.Errorf("update scene: %w", err)
		}
		s = cur
		return nil
	})
	return s, err
}

func scanScene(sc scanner) (schema.Scene, error) {
	var (
		s                      schema.Scene
		chars, tokens, prompt sql.NullString
		selected              int
	)
	if err := sc.Scan(&s.ID, &s.Title, &s.TitleDisplay, &s.SceneType, &s.ChunkStartIndex, &s.ChunkEndIndex, &s.NarrativeSummary,
		&s.NarrativeSummaryDisplay, &s.VisualDescription, &chars, &s.PrimaryLocation, &s.VisualIntensity,
		&s.IllustrationPriority, &s.ScenePromptDraft, &tokens, &prompt, &selected); err != nil {
		return schema.Scene{}, err
	}
	if err := unmarshal(chars, &s.CharactersPresent); err != nil {
		return schema.Scene{}, err
	}
	if err := unmarshal(tokens, &s.SceneVisualTokens); err != nil {
		return schema.Scene{}, err
	}
	if err := unmarshal(prompt, &s.T2IPrompt); err != nil {
		return schema.Scene{}, err
	}
	s.IsSelected = selected == 1
	return s, nil
}
