package kafka

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
)

func TestCreateChannel_RequiresBrokers(t *testing.T) {
	_, _, err := CreateChannel(watermill.NopLogger{}, nil, "cartflow")
	assert.Error(t, err)

	_, _, err = CreateChannel(watermill.NopLogger{}, []string{""}, "cartflow")
	assert.Error(t, err)
}
