package mqtt

import (
	"testing"

	"github.com/berfenger/zendure2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestDiscoveryMessages(t *testing.T) {
	assert := assert.New(t)
	c := testClient()
	bridge := domain.BridgeDevice("zendure")

	for _, sensor := range domain.BridgeSensors(bridge) {
		msg := GenericSensorToHADiscoveryMessage(c, sensor)
		assert.Equal("mqtt", msg.Platform)
		assert.Equal(c.BridgeStateTopic(), msg.AvTopic)
		if sensor.Id == domain.SENSOR_ID_BRIDGE_STATE {
			assert.Equal(c.BridgeStateTopic(), msg.StateTopic)
			assert.Equal(MQTT_PAYLOAD_ONLINE, msg.PayloadOn)
		}
	}

	sel := domain.DistributionSelects(bridge)[0]
	msg := GenericSelectToHADiscoveryMessage(c, sel)
	assert.Equal("zendure/select/operating_mode/set", msg.CommandTopic)
	assert.Equal(domain.OperatingModeNames(), msg.Options)
	assert.Equal("homeassistant/select/"+sel.Device.Id+"/operating_mode/config", c.HADiscoverySelectTopic(sel))

	number := domain.DistributionInputNumbers(bridge, -1200, 1200)[0]
	msg = GenericInputNumberToHADiscoveryMessage(c, number)
	assert.Equal("zendure/number/manual_power/set", msg.CommandTopic)
	assert.Equal(-1200.0, msg.Min)
	assert.Equal("W", msg.UnitOfMeasurement)
}
