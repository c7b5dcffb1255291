package stats

import "testing"

func TestAverageCurveHandlesRaggedCurves(t *testing.T) {
	got := AverageCurve([][]float64{
		{1, 2, 3},
		{3, 4},
		{5},
	})
	want := []float64{3, 3, 3}
	if len(got) != len(want) {
		t.Fatalf("expected %d points, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("point %d: got %v want %v", i, got[i], want[i])
		}
	}
	if len(AverageCurve(nil)) != 0 {
		t.Fatal("expected empty curve for no input")
	}
}

func TestCurveMinimaSkipsEmpty(t *testing.T) {
	got := CurveMinima([][]float64{{3, 1, 2}, {}, {0.5, 0.7}})
	if len(got) != 2 || got[0] != 1 || got[1] != 0.5 {
		t.Fatalf("unexpected minima: %v", got)
	}
}
