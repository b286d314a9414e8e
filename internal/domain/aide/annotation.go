package aide

// AnnotationType enumerates the label interfaces a project, and the AI
// models compatible with it, are built around. Both a model's
// annotationType and its predictionType are drawn from this same set,
// mirroring the original's single shared ANNOTATION_TYPES constant.
type AnnotationType string

const (
	AnnotationLabels            AnnotationType = "labels"
	AnnotationPoints            AnnotationType = "points"
	AnnotationBoundingBoxes     AnnotationType = "boundingBoxes"
	AnnotationPolygons          AnnotationType = "polygons"
	AnnotationSegmentationMasks AnnotationType = "segmentationMasks"
)

// KnownAnnotationTypes is the fixed set the model registry validates a
// discovered model's annotationType/predictionType entries against;
// anything outside it is dropped with a warning rather than rejected
// outright.
var KnownAnnotationTypes = map[string]bool{
	string(AnnotationLabels):            true,
	string(AnnotationPoints):            true,
	string(AnnotationBoundingBoxes):     true,
	string(AnnotationPolygons):          true,
	string(AnnotationSegmentationMasks): true,
}
