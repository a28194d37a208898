package models

// Farmer is the read-only projection of a farmer profile served by the profile service.
type Farmer struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Phone            *string          `json:"phone,omitempty"`
	Email            *string          `json:"email,omitempty"`
	PushToken        *string          `json:"push_token,omitempty"`
	District         string           `json:"district"`
	CropType         *string          `json:"crop_type,omitempty"`
	GrowthStage      *string          `json:"growth_stage,omitempty"`
	RiskLevel        *string          `json:"risk_level,omitempty"`
	PreferredChannel *DeliveryChannel `json:"preferred_channel,omitempty"`
	Language         string           `json:"language,omitempty"`
	DiseaseCodes     []string         `json:"disease_codes,omitempty"`
	PestCodes        []string         `json:"pest_codes,omitempty"`
}

// ContactFor returns the recipient address for a channel, or "" when unknown.
func (f *Farmer) ContactFor(channel DeliveryChannel) string {
	var v *string
	switch channel {
	case ChannelSMS:
		v = f.Phone
	case ChannelPush:
		v = f.PushToken
	case ChannelEmail:
		v = f.Email
	}
	if v == nil {
		return ""
	}
	return *v
}
