package pipeline

import (
	"context"
	"errors"
	"fmt"

	"inkwell/pkg/ontology"
	"inkwell/pkg/schema"
	"inkwell/pkg/search"
	"inkwell/pkg/store"
	"inkwell/pkg/tokens"
)

var ErrNoDispatcher = errors.New("reference search is not configured")

// EntityReferences is the search outcome for one character or location.
type EntityReferences struct {
	EntityType string         `json:"entity_type"`
	EntityID   int64          `json:"entity_id"`
	Name       string         `json:"name"`
	Providers  []string       `json:"providers"`
	Queries    []string       `json:"queries"`
	Found      int            `json:"found"`
	Added      int            `json:"added"`
	Trimmed    int64          `json:"trimmed"`
	Usage      map[string]int `json:"provider_usage"`
}

// SearchReferences looks up reference images for the book's entities with
// providers ranked by the book's engine ratings, and stores the new ones.
func (p *Pipeline) SearchReferences(ctx context.Context, bookID int64, mainOnly bool) ([]EntityReferences, error) {
	if p.dispatcher == nil {
		return nil, ErrNoDispatcher
	}
	book, err := p.store.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	ratings, err := p.store.EngineRatings(ctx, bookID)
	if err != nil {
		return nil, err
	}
	info := search.BookInfoFrom(*book)

	var out []EntityReferences
	for _, entityType := range []string{schema.EntityCharacter, schema.EntityLocation} {
		entities, err := p.store.Entities(ctx, bookID, entityType, mainOnly)
		if err != nil {
			return out, err
		}
		for _, e := range entities {
			ont, tok := visualsOf(e)
			res, err := p.dispatcher.SearchEntity(ctx, search.Entity{
				Name:        e.Name,
				Type:        e.Type,
				Description: e.Description,
				Ontology:    ont,
				Tokens:      tok,
			}, info, ratings)
			if err != nil {
				return out, err
			}

			ref := EntityReferences{
				EntityType: e.Type,
				EntityID:   e.ID,
				Name:       e.Name,
				Providers:  res.Providers,
				Queries:    res.Queries,
				Found:      len(res.Images),
				Usage:      res.Usage,
			}
			for _, img := range res.Images {
				added, err := p.store.AddReferenceImage(ctx, &schema.ReferenceImage{
					BookID:     bookID,
					EntityType: e.Type,
					EntityID:   e.ID,
					URL:        img.URL,
					Thumbnail:  img.Thumbnail,
					Width:      img.Width,
					Height:     img.Height,
					Source:     img.Provider,
				})
				if err != nil {
					return out, fmt.Errorf("save reference for %q: %w", e.Name, err)
				}
				if added {
					ref.Added++
				}
			}
			if ref.Trimmed, err = p.store.TrimReferenceImages(ctx, e.Type, e.ID, store.DefaultReferenceKeep); err != nil {
				return out, err
			}
			p.log.Info("references stored", "book", bookID, "entity", e.Name, "providers", res.Providers, "added", ref.Added, "trimmed", ref.Trimmed)
			out = append(out, ref)
		}
	}
	return out, nil
}

// visualsOf returns the stored ontology and tokens, deriving fallbacks for
// entities that were never analysed.
func visualsOf(e schema.Entity) (schema.EntityOntology, schema.EntityVisualTokens) {
	var ont schema.EntityOntology
	if e.Ontology != nil {
		ont = *e.Ontology
	} else {
		ont = ontology.Fallback(e.Input())
	}
	if e.Tokens != nil {
		return ont, *e.Tokens
	}
	return ont, tokens.Fallback(tokens.InputFrom(ont, e.Description))
}
