package uploader

import (
	"crypto/md5"
	"encoding/hex"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMD5Reader(t *testing.T) {
	data := "the quick brown fox"
	want := md5.Sum([]byte(data))

	r := newMD5Reader(strings.NewReader(data))
	_, err := io.Copy(io.Discard, r)
	require.NoError(t, err)

	require.Equal(t, hex.EncodeToString(want[:]), r.Sum())
	require.Equal(t, int64(len(data)), r.Size())
}

func TestETagIsPlainMD5(t *testing.T) {
	tests := []struct {
		etag string
		want bool
	}{
		{`"9e107d9d372bb6826bd81d3542a419d6"`, true},
		{"9e107d9d372bb6826bd81d3542a419d6", true},
		{`"9E107D9D372BB6826BD81D3542A419D6"`, true},
		{`"9e107d9d372bb6826bd81d3542a419d6-4"`, false}, // multipart composite
		{`"etag-1"`, false},
		{"", false},
	}

	for _, tt := range tests {
		require.Equal(t, tt.want, etagIsPlainMD5(tt.etag), tt.etag)
	}
}

func TestETagMatchesMD5(t *testing.T) {
	require.True(t, etagMatchesMD5(`"9e107d9d372bb6826bd81d3542a419d6"`, "9e107d9d372bb6826bd81d3542a419d6"))
	require.True(t, etagMatchesMD5(`"9E107D9D372BB6826BD81D3542A419D6"`, "9e107d9d372bb6826bd81d3542a419d6"))
	require.False(t, etagMatchesMD5(`"aaaa"`, "bbbb"))
}
