package topics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		input   string
		want    Label
		wantErr bool
	}{
		{"exact baseline", "Klima & Umwelt", Klima, false},
		{"case and spacing", "  klima   &  umwelt ", Klima, false},
		{"specific consolidated", "Bundestagswahl", Wahlen, false},
		{"specific case-insensitive", "phishing", Online, false},
		{"unknown", "Sport", "", true},
		{"empty", "   ", "", true},
		{"sentinel is not a label", Sentinel, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEveryBaselineHasConsolidationEntry(t *testing.T) {
	t.Parallel()

	m := Mapping()
	require.Len(t, Baseline, 12)
	for _, l := range Baseline {
		assert.NotEmpty(t, m[l], "baseline %q has no specific topics", l)
	}
}

func TestConsolidate(t *testing.T) {
	t.Parallel()

	l, ok := Consolidate("Ukraine-Krieg")
	require.True(t, ok)
	assert.Equal(t, Ukraine, l)

	_, ok = Consolidate("Ukraine-Konflikt")
	assert.False(t, ok)
}

func TestIsSentinel(t *testing.T) {
	t.Parallel()

	assert.True(t, IsSentinel("ERROR_CLASSIFYING_TOPIC"))
	assert.True(t, IsSentinel(" ERROR_CLASSIFYING_TOPIC\n"))
	assert.False(t, IsSentinel("Klima & Umwelt"))
}
