package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextFirstCallUnclamped(t *testing.T) {
	p := New()
	assert.Equal(t, time.Second, p.Next())
}

func TestNextClampsIntoBand(t *testing.T) {
	p := New()
	p.Next() // consume the unclamped 1s

	for i := 0; i < 10; i++ {
		d := p.Next()
		assert.GreaterOrEqual(t, d, 115*time.Second)
		assert.Less(t, d, 125*time.Second)
	}
}

func TestResetReturnsToInitial(t *testing.T) {
	p := New()
	p.Next()
	p.Next()
	p.Reset()
	assert.Equal(t, time.Second, p.Next())
}
