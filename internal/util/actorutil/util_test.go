package actorutil

import (
	"testing"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"
	"github.com/berfenger/zendure2mqtt/internal/mqtt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsedMQTTCommandToCommand(t *testing.T) {
	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: domain.SELECT_ID_OPERATING_MODE,
		Command:  mqtt.COMMAND_SELECT,
		Payload:  "MATCHING_CHARGE",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SetOperatingModeRequest{Mode: domain.OperatingModeMatchingCharge}, req)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: domain.INPUT_NUMBER_ID_MANUAL_POWER,
		Command:  mqtt.COMMAND_NUMBER,
		Payload:  "-350.0",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SetManualPowerRequest{PowerWatt: -350}, req)

	_, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{
		EntityId: domain.SELECT_ID_OPERATING_MODE,
		Command:  mqtt.COMMAND_SELECT,
		Payload:  "TURBO",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMode)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{EntityId: "other", Command: mqtt.COMMAND_NUMBER, Payload: "1"})
	assert.NoError(t, err)
	assert.Nil(t, req)
}
