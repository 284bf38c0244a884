package sync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSatisfiesRangeCaret(t *testing.T) {
	assert.Equal(t, true, SatisfiesRange("1.2.3", "^1.0.0"))
	assert.Equal(t, true, SatisfiesRange("1.9.0", "^1.0.0"))
	assert.Equal(t, false, SatisfiesRange("2.0.0", "^1.0.0"))
	assert.Equal(t, false, SatisfiesRange("0.9.0", "^1.0.0"))
}

func TestSatisfiesRangeTilde(t *testing.T) {
	assert.Equal(t, true, SatisfiesRange("1.2.9", "~1.2.0"))
	assert.Equal(t, false, SatisfiesRange("1.3.0", "~1.2.0"))
}

func TestSatisfiesRangeGte(t *testing.T) {
	assert.Equal(t, true, SatisfiesRange("3.0.0", ">=1.2.0"))
	assert.Equal(t, false, SatisfiesRange("1.1.0", ">=1.2.0"))
}

func TestSatisfiesRangeExact(t *testing.T) {
	assert.Equal(t, true, SatisfiesRange("1.2.3", "1.2.3"))
	assert.Equal(t, false, SatisfiesRange("1.2.4", "1.2.3"))
}

func TestSatisfiesRangeMalformed(t *testing.T) {
	assert.Equal(t, false, SatisfiesRange("garbage", "^1.0.0"))
	assert.Equal(t, false, SatisfiesRange("1.0.0", "garbage"))
}
