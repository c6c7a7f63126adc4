package bench

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareSplitsEvenly(t *testing.T) {
	total := 0
	for i := range 3 {
		total += share(10, 3, i)
	}
	assert.Equal(t, 10, total)
	assert.Equal(t, 4, share(10, 3, 0))
	assert.Equal(t, 3, share(10, 3, 2))
}

func TestBenchDeque(t *testing.T) {
	res, err := benchDeque(context.Background(), options{items: 5000, producers: 4})
	require.NoError(t, err)
	assert.Equal(t, 5000, res.items)
	assert.Positive(t, res.throughput())
}

func TestBenchSkipList(t *testing.T) {
	res, err := benchSkipList(context.Background(), options{items: 2000, producers: 3})
	require.NoError(t, err)
	assert.Equal(t, "skiplist", res.name)
}
