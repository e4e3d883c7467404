package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKnownCodesAreWellFormed(t *testing.T) {
	codes := KnownCodes()
	require.Len(t, codes, 12)

	for _, code := range codes {
		c := Classify(code)

		action := 0
		for _, f := range []bool{c.IsBuy, c.IsSell, c.IsExit} {
			if f {
				action++
			}
		}
		assert.Equal(t, 1, action, "code %d: exactly one of buy/sell/exit", code)

		side := 0
		for _, f := range []bool{c.IsLong, c.IsShort} {
			if f {
				side++
			}
		}
		assert.Equal(t, 1, side, "code %d: exactly one of long/short", code)

		class := 0
		for _, f := range []bool{c.IsMarket, c.IsLimit, c.IsStop} {
			if f {
				class++
			}
		}
		assert.Equal(t, 1, class, "code %d: exactly one of market/limit/stop", code)
	}
}

func TestClassifySpecificCodes(t *testing.T) {
	limitBuy := Classify(2)
	assert.True(t, limitBuy.IsBuy)
	assert.True(t, limitBuy.IsLong)
	assert.True(t, limitBuy.IsLimit)
	assert.False(t, limitBuy.IsMarket)

	marketCloseShort := Classify(10)
	assert.True(t, marketCloseShort.IsExit)
	assert.True(t, marketCloseShort.IsShort)
	assert.True(t, marketCloseShort.IsMarket)
}

func TestClassifyUnknownCode(t *testing.T) {
	for _, code := range []int{0, 13, -1, 99} {
		c := Classify(code)
		assert.False(t, c.Known(), "code %d must classify as unknown", code)
		assert.Zero(t, c, "code %d must have no flags set", code)
	}
}
