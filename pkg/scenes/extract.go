package scenes

import (
	"context"

	"inkwell/pkg/schema"
)

// Extract runs the deterministic candidate pass and then the refiner. It makes
// no model call when there are no analyses or no scenes are requested.
func Extract(ctx context.Context, r *Refiner, analyses []schema.ChunkAnalysis, req Request, opts Options) ([]schema.Scene, []schema.SceneCandidate, schema.StepReport) {
	if len(analyses) == 0 || req.SceneCount <= 0 {
		return []schema.Scene{}, []schema.SceneCandidate{}, schema.StepReport{Step: Step}
	}

	candidates := Candidates(analyses, req.SceneCount, opts)
	r.log.Info("scene candidates ready", "chunks", len(analyses), "candidates", len(candidates))

	scenes, report := r.Refine(ctx, candidates, req)
	r.log.Info("scenes selected", "count", len(scenes), "fallback", report.Fallback)
	return scenes, candidates, report
}
