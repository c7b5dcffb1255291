package scoring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScoreWithoutGenerated(t *testing.T) {
	rows := randomRows(2, 3, 64)
	report := Score(rows, nil, []string{"a", "a", "b"}, DefaultOptions())
	require.Nil(t, report.Generated)
	require.Nil(t, report.RMSE)
	require.Equal(t, []int{2, 1}, report.ClassCounts)
	require.Len(t, report.Original.Distribution, 3)

	summary := report.Summary()
	require.Equal(t, report.Original.Diversity, summary.Diversity)
	require.Zero(t, summary.SchemaVersion)
}

func TestScoreWithGenerated(t *testing.T) {
	orig := randomRows(2, 3, 64)
	gen := randomRows(5, 4, 64)
	report := Score(orig, gen, nil, DefaultOptions())
	require.NotNil(t, report.Generated)
	require.NotNil(t, report.RMSE)
	require.Greater(t, *report.RMSE, 0.0)

	summary := report.Summary()
	require.Equal(t, report.Generated.Novelty.Global, summary.Novelty)
	require.Equal(t, report.Original.Novelty.Global, summary.OriginalNovelty)
}
