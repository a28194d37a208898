package models

import "errors"

var (
	ErrNoWeatherData       = errors.New("no weather data")
	ErrDuplicateTrigger    = errors.New("duplicate trigger")
	ErrInvalidTransition   = errors.New("invalid delivery status transition")
	ErrMalformedRule       = errors.New("malformed rule definition")
	ErrRuleNotFound        = errors.New("advisory rule not found")
	ErrRuleNotEditable     = errors.New("advisory rule not editable")
	ErrDeliveryLogNotFound = errors.New("delivery log not found")
	ErrContentNotFound     = errors.New("advisory content not found")
	ErrNoContact           = errors.New("no contact for any channel")
	ErrInvalidReceipt      = errors.New("invalid delivery receipt")
)
