package reqid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx, id := NewContext(context.Background())
	require.NotZero(t, id)
	got, ok := FromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestParse(t *testing.T) {
	id := ID(0xbeef)
	require.Equal(t, "beef", id.String())

	parsed, ok := Parse(id.String())
	require.True(t, ok)
	require.Equal(t, id, parsed)

	for _, bad := range []string{"", "0", "zz", "-1"} {
		_, ok := Parse(bad)
		require.False(t, ok, bad)
	}
}

func TestSerialIsUniquePerContext(t *testing.T) {
	_, ok := Serial(context.Background())
	require.False(t, ok)

	a := WithID(context.Background(), ID(7))
	b := WithID(context.Background(), ID(7))
	sa, ok := Serial(a)
	require.True(t, ok)
	sb, ok := Serial(b)
	require.True(t, ok)
	require.NotEqual(t, sa, sb)

	ida, _ := FromContext(a)
	idb, _ := FromContext(b)
	require.Equal(t, ida, idb)
}
