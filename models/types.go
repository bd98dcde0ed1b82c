package models

import (
	"fmt"
	"time"
)

// Prediction pairs one model output with its class label.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
	Percent    string  `json:"percent"`
}

func NewPrediction(label string, confidence float32) Prediction {
	return Prediction{
		Label:      label,
		Confidence: confidence,
		Percent:    FormatPercent(confidence),
	}
}

// FormatPercent renders a confidence as a percentage with one decimal.
func FormatPercent(confidence float32) string {
	return fmt.Sprintf("%.1f%%", float64(confidence)*100)
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Postprocess time.Duration
	Total       time.Duration
}
