package podstate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"podlink/internal/aacp"
	"podlink/internal/ble"
)

func TestLowestBattery(t *testing.T) {
	tests := []struct {
		name  string
		state PodState
		want  int
	}{
		{"empty", PodState{}, 0},
		{"pods", PodState{LeftBattery: u8(40), RightBattery: u8(30), CaseBattery: u8(5)}, 30},
		{"one pod", PodState{RightBattery: u8(90)}, 90},
		{"case only", PodState{CaseBattery: u8(55)}, 55},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.LowestBattery())
			assert.Equal(t, tt.want != 0, tt.state.HasBatteryData())
		})
	}
}

func TestFromAACP(t *testing.T) {
	info := &aacp.BatteryInfo{
		Left:  &aacp.Battery{Component: aacp.ComponentLeft, Level: 81, Status: aacp.StatusCharging},
		Right: &aacp.Battery{Component: aacp.ComponentRight, Level: 77, Status: aacp.StatusDisconnected},
		Case:  &aacp.Battery{Component: aacp.ComponentCase, Level: 12, Status: aacp.StatusDischarging},
	}
	ear := &aacp.EarDetection{Primary: aacp.EarStatusInEar, Secondary: aacp.EarStatusInCase}

	st := FromAACP(info, ear, PodSideUnknown)
	assert.Equal(t, DataSourceAACP, st.Source)
	assert.Equal(t, u8(81), st.LeftBattery)
	assert.True(t, st.LeftCharging)
	assert.Nil(t, st.RightBattery, "disconnected pod has no level")
	assert.Equal(t, u8(12), st.CaseBattery)
	assert.True(t, st.LeftInEar)
	assert.False(t, st.RightInEar)

	st = FromAACP(nil, ear, PodSideRight)
	assert.False(t, st.HasBatteryData())
	assert.False(t, st.LeftInEar)
	assert.True(t, st.RightInEar)
}

func TestFromAACPSingleBattery(t *testing.T) {
	info := &aacp.BatteryInfo{Single: &aacp.Battery{Component: aacp.ComponentSingle, Level: 64, Status: aacp.StatusDischarging}}
	st := FromAACP(info, nil, PodSideUnknown)
	assert.Equal(t, u8(64), st.LeftBattery)
	assert.Equal(t, 64, st.LowestBattery())
}

func TestFromAdvertisement(t *testing.T) {
	pd := &ble.ProximityData{
		DeviceModel:  0x2420,
		LeftBattery:  u8(50),
		RightBattery: u8(60),
		CaseCharging: true,
		LidOpen:      true,
	}
	st := FromAdvertisement(pd)
	assert.Equal(t, DataSourceBLE, st.Source)
	assert.Equal(t, PodSideLeft, st.PrimaryPod)
	assert.Equal(t, uint16(0x2420), st.DeviceModel)
	assert.True(t, st.CaseCharging)
	assert.True(t, st.LidOpen)
	assert.Equal(t, 50, st.LowestBattery())
}
