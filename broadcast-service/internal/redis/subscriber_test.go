package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage(t *testing.T) {
	payload := `{"event":"newBid","data":{"bidderId":"u1","bidderName":"Ana","amount":"12"}}`

	m, err := parseMessage("bid_events:p42", payload)
	require.NoError(t, err)
	assert.Equal(t, "p42", m.ProductID)
	assert.Equal(t, "newBid", m.Event)
	assert.Equal(t, payload, string(m.Payload))
}

func TestParseMessageRejects(t *testing.T) {
	tests := []struct {
		name, channel, payload string
	}{
		{"wrong prefix", "other:p1", `{"event":"newBid"}`},
		{"empty product", "bid_events:", `{"event":"newBid"}`},
		{"bad json", "bid_events:p1", `{`},
		{"no event", "bid_events:p1", `{"data":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseMessage(tt.channel, tt.payload)
			assert.Error(t, err)
		})
	}
}
