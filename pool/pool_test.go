package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpclb/pool"
	"xrpclb/xrpcerr"
)

func TestNewRejectsEmptyPool(t *testing.T) {
	t.Parallel()
	_, err := pool.New(nil)
	require.Error(t, err)
	assert.Equal(t, xrpcerr.KindInvalidConfig, xrpcerr.Of(err))
}

func TestNewRejectsAllInvalidEntries(t *testing.T) {
	t.Parallel()
	_, err := pool.New([]pool.Backend{{Host: "", Port: 9000}, {Host: "x", Port: 0}})
	require.Error(t, err)
	assert.Equal(t, xrpcerr.KindInvalidConfig, xrpcerr.Of(err))
}

func TestNewKeepsValidEntriesAmongInvalid(t *testing.T) {
	t.Parallel()
	p, err := pool.New([]pool.Backend{
		{Host: "", Port: 9000},
		{Host: "127.0.0.1", Port: 2003},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, "127.0.0.1:2003", p.Get(0).String())
}

func TestAllReturnsACopy(t *testing.T) {
	t.Parallel()
	p, err := pool.New([]pool.Backend{{Host: "a", Port: 1}, {Host: "b", Port: 2}})
	require.NoError(t, err)
	all := p.All()
	all[0].Host = "mutated"
	assert.Equal(t, "a", p.Get(0).Host)
}
