package transcribe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseMillis(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "0", want: 0},
		{in: "4200", want: 4200},
		{in: " 17 ", want: 17},
		{in: "+5", want: 5},
		{in: "-12", want: -12},
		{in: "1500.75", want: 1500},
		{in: "320ms", want: 320},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "-", wantErr: true},
		{in: ".5", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		got, err := parseMillis(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}

func TestIsSpecialToken(t *testing.T) {
	t.Parallel()

	require.True(t, isSpecialToken("[_BEG_]"))
	require.True(t, isSpecialToken("[_TT_100]"))
	require.True(t, isSpecialToken("[_SOT_]"))
	require.False(t, isSpecialToken("[music]"))
	require.False(t, isSpecialToken("hello"))
	require.False(t, isSpecialToken("[_]"))
}
