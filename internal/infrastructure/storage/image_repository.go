package storage

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/smilemakc/aidecore/internal/domain/aide"
)

// ImageRepository queries a project's image/annotation tables: schema
// owned by AIDE's annotation system itself (image, image_user,
// annotation), read-only from this module's perspective. Grounded in
// annotation_watchdog.py's _load_properties threshold query and
// workflow_designer.py's _get_project_defaults image counting.
type ImageRepository struct {
	db bun.IDB
}

// NewImageRepository builds an ImageRepository.
func NewImageRepository(db bun.IDB) *ImageRepository {
	return &ImageRepository{db: db}
}

// LabelingStats counts images that have reached minAnnoPerImage
// annotations against the project's total image count, the numerator and
// denominator of the annotation watchdog's autotrain threshold check.
func (r *ImageRepository) LabelingStats(ctx context.Context, shortName string, minAnnoPerImage int) (*aide.ImageLabelingStats, error) {
	var total int
	if err := r.db.NewSelect().
		ColumnExpr("count(*)").
		ModelTableExpr("?", QualifiedTable(shortName, "image")).
		Scan(ctx, &total); err != nil {
		return nil, fmt.Errorf("%w: count images: %v", aide.ErrStoreGone, err)
	}

	var annotated int
	err := r.db.NewSelect().
		ColumnExpr("count(*)").
		TableExpr("(?) AS sub", r.db.NewSelect().
			ColumnExpr("iu.image").
			ModelTableExpr("? AS iu", QualifiedTable(shortName, "image_user")).
			Join("JOIN ? AS a ON a.image = iu.image", QualifiedTable(shortName, "annotation")).
			GroupExpr("iu.image").
			Having("count(a.id) >= ?", minAnnoPerImage),
		).
		Scan(ctx, &annotated)
	if err != nil {
		return nil, fmt.Errorf("%w: count annotated images: %v", aide.ErrStoreGone, err)
	}

	return &aide.ImageLabelingStats{NumAnnotated: annotated, NumTotal: total}, nil
}

// CountEligible evaluates a compiled image-acquisition predicate: corrupt
// images are always excluded, golden questions included or isolated per
// the spec, annotation minimums enforced, and — for "lastState" — only
// images checked since the newest model checkpoint count. This is the
// counting form of the selection query a worker's acquisition step runs.
func (r *ImageRepository) CountEligible(ctx context.Context, shortName string, spec aide.ImageQuerySpec) (int, error) {
	q := r.db.NewSelect().
		ColumnExpr("count(DISTINCT i.id)").
		ModelTableExpr("? AS i", QualifiedTable(shortName, "image")).
		Where("NOT i.corrupt")

	switch {
	case spec.GoldenQuestionsOnly:
		q = q.Where("i.isgoldenquestion")
	case !spec.IncludeGoldenQuestions:
		q = q.Where("NOT i.isgoldenquestion")
	}

	if spec.ForceUnlabeled {
		q = q.Where("NOT EXISTS (SELECT 1 FROM ? AS a WHERE a.image = i.id)",
			QualifiedTable(shortName, "annotation"))
	}

	if spec.MinAnnoPerImage > 0 {
		q = q.Where("(SELECT count(*) FROM ? AS a WHERE a.image = i.id) >= ?",
			QualifiedTable(shortName, "annotation"), spec.MinAnnoPerImage)
	}

	if spec.MinTimestamp == aide.MinTimestampLastState {
		q = q.Where("EXISTS (SELECT 1 FROM ? AS iu WHERE iu.image = i.id AND iu.last_checked > "+
			"COALESCE((SELECT max(cs.timecreated) FROM ? AS cs), to_timestamp(0)))",
			QualifiedTable(shortName, "image_user"), QualifiedTable(shortName, "cnnstate"))
	}

	var eligible int
	if err := q.Scan(ctx, &eligible); err != nil {
		return 0, fmt.Errorf("%w: count eligible images: %v", aide.ErrStoreGone, err)
	}

	if spec.MaxNumImages > 0 && spec.MaxNumImages < eligible {
		return spec.MaxNumImages, nil
	}
	return eligible, nil
}

// CountAvailable counts the images eligible to feed a task of the given
// type, clamped to maxNumImages when positive (a value of -1 or 0 is
// "unlimited"/"all", matching max_num_images' original semantics).
func (r *ImageRepository) CountAvailable(ctx context.Context, shortName string, taskType aide.TaskType, maxNumImages int) (int, error) {
	q := r.db.NewSelect().
		ColumnExpr("count(*)").
		ModelTableExpr("? AS i", QualifiedTable(shortName, "image"))

	if taskType == aide.TaskInference {
		q = q.Where("NOT EXISTS (SELECT 1 FROM ? AS a WHERE a.image = i.id)", QualifiedTable(shortName, "annotation"))
	}

	var available int
	if err := q.Scan(ctx, &available); err != nil {
		return 0, fmt.Errorf("%w: count available images: %v", aide.ErrStoreGone, err)
	}

	if maxNumImages > 0 && maxNumImages < available {
		return maxNumImages, nil
	}
	return available, nil
}
