package podstate

import (
	"podlink/internal/aacp"
	"podlink/internal/ble"
)

// DataSource indicates where the state data originated from
type DataSource int

const (
	DataSourceUnknown DataSource = iota
	DataSourceBLE                // BLE advertisements, 10% steps unless decrypted
	DataSourceAACP               // AACP battery packets, 1% steps
)

func (d DataSource) String() string {
	switch d {
	case DataSourceBLE:
		return "BLE"
	case DataSourceAACP:
		return "AACP"
	default:
		return "Unknown"
	}
}

// PodSide indicates which AirPod is the primary pod
type PodSide int

const (
	PodSideUnknown PodSide = iota
	PodSideLeft
	PodSideRight
)

func (p PodSide) String() string {
	switch p {
	case PodSideLeft:
		return "Left"
	case PodSideRight:
		return "Right"
	default:
		return "Unknown"
	}
}

// PodState is the unified AirPods state handed to consumers, independent of
// where it came from.
type PodState struct {
	Source DataSource

	// Battery levels (0-100), nil if unknown
	LeftBattery  *uint8
	RightBattery *uint8
	CaseBattery  *uint8

	LeftCharging  bool
	RightCharging bool
	CaseCharging  bool

	LeftInEar  bool
	RightInEar bool

	// Only reported over BLE.
	LidOpen     bool
	DeviceModel uint16
	Color       uint8

	PrimaryPod PodSide
	RawData    []byte
}

// HasBatteryData returns true if any battery level is available
func (p *PodState) HasBatteryData() bool {
	return p.LeftBattery != nil || p.RightBattery != nil || p.CaseBattery != nil
}

// LowestBattery returns the lowest known pod level, falling back to the
// case. It returns 0 when nothing is known.
func (p *PodState) LowestBattery() int {
	lowest := -1
	for _, level := range []*uint8{p.LeftBattery, p.RightBattery} {
		if level != nil && (lowest < 0 || int(*level) < lowest) {
			lowest = int(*level)
		}
	}
	if lowest < 0 && p.CaseBattery != nil {
		lowest = int(*p.CaseBattery)
	}
	if lowest < 0 {
		return 0
	}
	return lowest
}

// FromAdvertisement converts a decoded BLE advertisement.
func FromAdvertisement(pd *ble.ProximityData) PodState {
	primary := PodSideLeft
	if pd.IsFlipped {
		primary = PodSideRight
	}
	return PodState{
		Source:        DataSourceBLE,
		LeftBattery:   pd.LeftBattery,
		RightBattery:  pd.RightBattery,
		CaseBattery:   pd.CaseBattery,
		LeftCharging:  pd.LeftCharging,
		RightCharging: pd.RightCharging,
		CaseCharging:  pd.CaseCharging,
		LeftInEar:     pd.LeftInEar,
		RightInEar:    pd.RightInEar,
		LidOpen:       pd.LidOpen,
		DeviceModel:   pd.DeviceModel,
		Color:         pd.Color,
		PrimaryPod:    primary,
		RawData:       pd.RawData,
	}
}

// FromAACP builds the state from the session's battery and ear detection
// snapshot. AACP names buds primary and secondary, so primary tells which
// side is which; an unknown side is treated as left. A single-battery device
// reports its level as the left pod.
func FromAACP(info *aacp.BatteryInfo, ear *aacp.EarDetection, primary PodSide) PodState {
	st := PodState{Source: DataSourceAACP, PrimaryPod: primary}

	if info != nil {
		st.LeftBattery, st.LeftCharging = level(info.Left)
		st.RightBattery, st.RightCharging = level(info.Right)
		st.CaseBattery, st.CaseCharging = level(info.Case)
		if st.LeftBattery == nil && st.RightBattery == nil {
			st.LeftBattery, st.LeftCharging = level(info.Single)
		}
	}

	if ear != nil {
		first := ear.Primary == aacp.EarStatusInEar
		second := ear.Secondary == aacp.EarStatusInEar
		if primary == PodSideRight {
			first, second = second, first
		}
		st.LeftInEar, st.RightInEar = first, second
	}

	return st
}

func level(b *aacp.Battery) (*uint8, bool) {
	if b == nil || b.Status == aacp.StatusDisconnected {
		return nil, false
	}
	v := b.Level
	return &v, b.Charging()
}
