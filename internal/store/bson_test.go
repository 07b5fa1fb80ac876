package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBSONDocSorted(t *testing.T) {
	doc := toBSONDoc(map[string]any{"b": 2, "a": 1, "c": 3})
	require.Len(t, doc, 3)
	assert.Equal(t, "a", doc[0].Key)
	assert.Equal(t, "b", doc[1].Key)
	assert.Equal(t, "c", doc[2].Key)
}
