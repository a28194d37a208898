package models

type Signal string

const (
	SignalHeavyRainExpected Signal = "HEAVY_RAIN_EXPECTED"
	SignalFloodRisk         Signal = "FLOOD_RISK"
	SignalHeatWaveAlert     Signal = "HEAT_WAVE_ALERT"
	SignalHighTemperature   Signal = "HIGH_TEMPERATURE"
	SignalColdWave          Signal = "COLD_WAVE"
	SignalFrostRisk         Signal = "FROST_RISK"
	SignalHighHumidity      Signal = "HIGH_HUMIDITY"
	SignalLowHumidity       Signal = "LOW_HUMIDITY"
	SignalStrongWind        Signal = "STRONG_WIND"
	SignalStormWarning      Signal = "STORM_WARNING"
	SignalThunderstormAlert Signal = "THUNDERSTORM_ALERT"
	SignalHailstormAlert    Signal = "HAILSTORM_ALERT"
	SignalExtremeWeather    Signal = "EXTREME_WEATHER"
	SignalNormalConditions  Signal = "NORMAL_CONDITIONS"
)

type Severity string

const (
	SeverityInfo      Severity = "INFO"
	SeverityLow       Severity = "LOW"
	SeverityMedium    Severity = "MEDIUM"
	SeverityHigh      Severity = "HIGH"
	SeverityEmergency Severity = "EMERGENCY"
)

type RuleStatus string

const (
	RuleDraft    RuleStatus = "DRAFT"
	RuleActive   RuleStatus = "ACTIVE"
	RuleArchived RuleStatus = "ARCHIVED"
)

type RuleType string

const (
	RuleTypeWeather RuleType = "WEATHER"
	RuleTypeDisease RuleType = "DISEASE"
	RuleTypePest    RuleType = "PEST"
	RuleTypeGeneral RuleType = "GENERAL"
)

type DeliveryStatus string

const (
	DeliveryPending          DeliveryStatus = "PENDING"
	DeliveryDelivered        DeliveryStatus = "DELIVERED"
	DeliveryOpened           DeliveryStatus = "OPENED"
	DeliveryFeedbackReceived DeliveryStatus = "FEEDBACK_RECEIVED"
	DeliveryFailed           DeliveryStatus = "DELIVERY_FAILED"
)

type DeliveryChannel string

const (
	ChannelSMS   DeliveryChannel = "SMS"
	ChannelPush  DeliveryChannel = "PUSH"
	ChannelEmail DeliveryChannel = "EMAIL"
)

type FeedbackValue string

const (
	FeedbackUseful     FeedbackValue = "USEFUL"
	FeedbackNotUseful  FeedbackValue = "NOT_USEFUL"
	FeedbackNoFeedback FeedbackValue = "NO_FEEDBACK"
)

type AlertLevel string

const (
	AlertLevelNormal  AlertLevel = "NORMAL"
	AlertLevelWatch   AlertLevel = "WATCH"
	AlertLevelWarning AlertLevel = "WARNING"
	AlertLevelSevere  AlertLevel = "SEVERE"
)

type TransportPriority string

const (
	TransportUrgent TransportPriority = "urgent"
	TransportHigh   TransportPriority = "high"
	TransportNormal TransportPriority = "normal"
	TransportLow    TransportPriority = "low"
)

type ThresholdOperator string

const (
	ThresholdLT  ThresholdOperator = "<"
	ThresholdGT  ThresholdOperator = ">"
	ThresholdLTE ThresholdOperator = "<="
	ThresholdGTE ThresholdOperator = ">="
	ThresholdEQ  ThresholdOperator = "=="
	ThresholdNE  ThresholdOperator = "!="

	SetIn          ThresholdOperator = "in"
	SetNotIn       ThresholdOperator = "not_in"
	SetContainsAny ThresholdOperator = "contains_any"
	SetContainsAll ThresholdOperator = "contains_all"
	FieldExists    ThresholdOperator = "exists"
)

type LogicalOperator string

const (
	LogicalAND LogicalOperator = "AND"
	LogicalOR  LogicalOperator = "OR"
	LogicalNOT LogicalOperator = "NOT"
)

func IsValidSeverity(s Severity) bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityEmergency:
		return true
	default:
		return false
	}
}

func IsValidChannel(c DeliveryChannel) bool {
	switch c {
	case ChannelSMS, ChannelPush, ChannelEmail:
		return true
	default:
		return false
	}
}

