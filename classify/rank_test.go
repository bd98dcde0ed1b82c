package classify

import "testing"

func TestRankSortsDescending(t *testing.T) {
	predictions, mismatch := Rank([]float32{0.1, 0.7, 0.2}, []string{"Class 1", "Class 2", "Class 3"})
	if mismatch {
		t.Fatalf("expected no label mismatch")
	}

	want := []struct {
		label   string
		percent string
	}{
		{"Class 2", "70.0%"},
		{"Class 3", "20.0%"},
		{"Class 1", "10.0%"},
	}
	if len(predictions) != len(want) {
		t.Fatalf("expected %d predictions, got %d", len(want), len(predictions))
	}
	for i, w := range want {
		if predictions[i].Label != w.label || predictions[i].Percent != w.percent {
			t.Fatalf("position %d: got %s %s, want %s %s",
				i, predictions[i].Label, predictions[i].Percent, w.label, w.percent)
		}
	}
}

func TestRankSynthesizesMissingLabels(t *testing.T) {
	predictions, mismatch := Rank([]float32{0.1, 0.2, 0.3, 0.4}, []string{"Class 1", "Class 2", "Class 3"})
	if !mismatch {
		t.Fatalf("expected label mismatch")
	}
	if len(predictions) != 4 {
		t.Fatalf("expected 4 predictions, got %d", len(predictions))
	}
	if predictions[0].Label != "Class 4" {
		t.Fatalf("expected synthesized Class 4 first, got %q", predictions[0].Label)
	}
}

func TestRankShorterOutputThanLabels(t *testing.T) {
	predictions, mismatch := Rank([]float32{0.9}, []string{"cat", "dog"})
	if !mismatch {
		t.Fatalf("expected label mismatch")
	}
	if len(predictions) != 1 || predictions[0].Label != "cat" {
		t.Fatalf("unexpected predictions: %+v", predictions)
	}
}

func TestRankNonIncreasing(t *testing.T) {
	scores := []float32{0.3, 0.05, 0.3, 0.6, 0, 0.25, 0.9, 0.3}
	predictions, _ := Rank(scores, nil)
	if len(predictions) != len(scores) {
		t.Fatalf("expected %d predictions, got %d", len(scores), len(predictions))
	}
	for i := 1; i < len(predictions); i++ {
		if predictions[i].Confidence > predictions[i-1].Confidence {
			t.Fatalf("confidence increased at %d: %v > %v", i, predictions[i].Confidence, predictions[i-1].Confidence)
		}
	}
}

func TestRankTiesKeepOutputOrder(t *testing.T) {
	predictions, _ := Rank([]float32{0.5, 0.5}, []string{"first", "second"})
	if predictions[0].Label != "first" || predictions[1].Label != "second" {
		t.Fatalf("unexpected tie order: %s, %s", predictions[0].Label, predictions[1].Label)
	}
}

func TestLabelForEmptyEntry(t *testing.T) {
	if got := LabelFor([]string{"a", ""}, 1); got != "Class 2" {
		t.Fatalf("expected fallback label, got %q", got)
	}
}
