package token

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(""))
	assert.Greater(t, Count("hello world"), 0)
	assert.LessOrEqual(t, Count("hello world"), 4)
}

func TestEstimate(t *testing.T) {
	assert.Equal(t, 0, Estimate("   "))
	assert.Equal(t, 1, Estimate("hi"))
	assert.GreaterOrEqual(t, Estimate("one two three four"), 4)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("word ", 200)
	short := Truncate(long, 10)
	assert.Less(t, len(short), len(long))
	assert.True(t, strings.HasSuffix(short, "..."))

	assert.Equal(t, "tiny", Truncate("tiny", 100))
	assert.Equal(t, long, Truncate(long, 0))
}
