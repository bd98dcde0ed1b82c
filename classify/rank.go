package classify

import (
	"fmt"
	"sort"

	"github.com/Tutortoise/image-scan-service/models"
)

// LabelFor returns the class name for output index i, or "Class i+1" when the
// label table is too short.
func LabelFor(labels []string, i int) string {
	if i < len(labels) && labels[i] != "" {
		return labels[i]
	}
	return fmt.Sprintf("Class %d", i+1)
}

// Rank pairs every score with its label and sorts by confidence, highest
// first. Equal scores keep their output order. mismatch is true when the
// label table and the output vector differ in length.
func Rank(scores []float32, labels []string) (predictions []models.Prediction, mismatch bool) {
	predictions = make([]models.Prediction, len(scores))
	for i, score := range scores {
		predictions[i] = models.NewPrediction(LabelFor(labels, i), score)
	}

	sort.SliceStable(predictions, func(i, j int) bool {
		return predictions[i].Confidence > predictions[j].Confidence
	})

	return predictions, len(scores) != len(labels)
}
