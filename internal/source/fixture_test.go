package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixtureSourceMessages(t *testing.T) {
	msgs, err := NewFixtureSource().Fetch(context.Background(), FilterSettings{MaxMessages: 1})
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	assert.Equal(t, "101", msgs[0].RequestNumber)
	assert.Equal(t, "12", msgs[0].PositionNumber)
	assert.Equal(t, "подрядчик в пути", msgs[0].DetectedStatus)

	assert.Equal(t, "101", msgs[1].RequestNumber)
	assert.Empty(t, msgs[1].PositionNumber, "\"позицию\" is not a recognised position marker")
	assert.Equal(t, "подрядчик на месте", msgs[1].DetectedStatus)

	assert.Equal(t, "102", msgs[2].RequestNumber)
	assert.Equal(t, "8", msgs[2].PositionNumber)
	assert.Equal(t, "подрядчик убыл", msgs[2].DetectedStatus)

	for _, m := range msgs {
		assert.Equal(t, "contractor@example.com", m.Sender)
		assert.NotEmpty(t, m.Comment)
		assert.Equal(t, "UTC", m.ReceivedAt.Location().String())
	}
}
