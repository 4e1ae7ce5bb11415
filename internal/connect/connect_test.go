package connect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "checksummed",
			in:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			want: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		},
		{
			name: "no prefix with spaces",
			in:   "  5aaeb6053f3e94c9b9a09f33669435e7ef1beaed ",
			want: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		},
		{
			name:    "too short",
			in:      "0x1234",
			wantErr: true,
		},
		{
			name:    "privacy address",
			in:      "0zk1qyqszqgpqyqszqgpqyqszqgpqyqszqgp",
			wantErr: true,
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			got, err := NormalizeAddress(test.in)
			if test.wantErr {
				require.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			require.Equal(t, test.want, got)
		})
	}
}
