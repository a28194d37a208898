package models

// signalRank orders signals by how urgently they must be communicated.
// Ranks are explicit so adding a signal never reshuffles existing comparisons.
var signalRank = map[Signal]int{
	SignalExtremeWeather:    100,
	SignalFloodRisk:         95,
	SignalHailstormAlert:    90,
	SignalStormWarning:      88,
	SignalThunderstormAlert: 85,
	SignalHeatWaveAlert:     80,
	SignalFrostRisk:         78,
	SignalHeavyRainExpected: 70,
	SignalColdWave:          60,
	SignalStrongWind:        55,
	SignalHighTemperature:   50,
	SignalHighHumidity:      40,
	SignalLowHumidity:       30,
	SignalNormalConditions:  0,
}

// Rank returns the severity rank of the signal, -1 for unknown signals.
func (s Signal) Rank() int {
	if rank, ok := signalRank[s]; ok {
		return rank
	}
	return -1
}

// AlertLevel maps a signal onto the public bulletin scale.
func (s Signal) AlertLevel() AlertLevel {
	rank := s.Rank()
	switch {
	case rank >= 85:
		return AlertLevelSevere
	case rank >= 60:
		return AlertLevelWarning
	case rank > 0:
		return AlertLevelWatch
	default:
		return AlertLevelNormal
	}
}

// DefaultSeverity is the advisory severity used when a signal triggers an advisory on its own.
func (s Signal) DefaultSeverity() Severity {
	switch s.AlertLevel() {
	case AlertLevelSevere:
		return SeverityEmergency
	case AlertLevelWarning:
		return SeverityHigh
	case AlertLevelWatch:
		return SeverityMedium
	default:
		return SeverityInfo
	}
}

var severityRank = map[Severity]int{
	SeverityInfo:      1,
	SeverityLow:       2,
	SeverityMedium:    3,
	SeverityHigh:      4,
	SeverityEmergency: 5,
}

// Rank returns the ordering of the severity, 0 for unknown values.
func (s Severity) Rank() int {
	return severityRank[s]
}

// TransportPriority maps advisory severity to the priority the notification transport should use.
func (s Severity) TransportPriority() TransportPriority {
	switch s {
	case SeverityEmergency:
		return TransportUrgent
	case SeverityHigh:
		return TransportHigh
	case SeverityMedium:
		return TransportNormal
	default:
		return TransportLow
	}
}

func SignalsToStrings(signals []Signal) []string {
	out := make([]string, 0, len(signals))
	for _, s := range signals {
		out = append(out, string(s))
	}
	return out
}
