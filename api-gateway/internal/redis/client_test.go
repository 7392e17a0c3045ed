package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductKeys(t *testing.T) {
	keys := productKeys("p1")
	assert.Equal(t, []string{
		"product:p1",
		"product:p1:highest_bid",
		"product:p1:highest_bidder",
		"product:p1:highest_bidder_name",
		"product:p1:bid_count",
		"product:p1:bids",
	}, keys)
}

func TestParseScriptResult(t *testing.T) {
	code, current, count, minimum, err := parseScriptResult([]interface{}{int64(0), "10.50", "4", "11.5"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), code)
	assert.Equal(t, "10.50", current)
	assert.Equal(t, "4", count)
	assert.Equal(t, "11.5", minimum)

	_, _, _, _, err = parseScriptResult([]interface{}{int64(1)})
	assert.Error(t, err)

	_, _, _, _, err = parseScriptResult([]interface{}{"1", "0", "0", "0"})
	assert.Error(t, err)
}

func TestScriptError(t *testing.T) {
	assert.NoError(t, scriptError(1))
	assert.NoError(t, scriptError(0))
	assert.ErrorIs(t, scriptError(-1), ErrProductNotFound)
	assert.ErrorIs(t, scriptError(-2), ErrNotAuction)
	assert.ErrorIs(t, scriptError(-3), ErrAuctionClosed)
}
