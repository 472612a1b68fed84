package model

import "time"

// ChannelID names one notification destination
type ChannelID string

const (
	ChannelTelegram ChannelID = "telegram"
	ChannelWhatsApp ChannelID = "whatsapp"
	ChannelFacebook ChannelID = "facebook"
	ChannelEmail    ChannelID = "email"
)

// AttemptMode tells whether a send carried an image or text only
type AttemptMode string

const (
	AttemptImage AttemptMode = "image"
	AttemptText  AttemptMode = "text"
)

// Attempt is one remote call made on a channel
type Attempt struct {
	Mode  AttemptMode `json:"mode"`
	Error string      `json:"error,omitempty"`
}

// DeliveryOutcome is the result of delivering one record to one channel
type DeliveryOutcome struct {
	Channel   ChannelID `json:"channel"`
	Delivered bool      `json:"delivered"`
	Reference *string   `json:"reference,omitempty"`
	Error     *string   `json:"error,omitempty"`
	Attempts  []Attempt `json:"attempts,omitempty"`
}

// DeliveryReport collects the outcomes of one record across all channels
type DeliveryReport struct {
	RecordID   string            `json:"record_id"`
	Outcomes   []DeliveryOutcome `json:"outcomes"`
	AnySuccess bool              `json:"any_success"`
}

// FirstError returns the error of the first failed outcome, or "".
func (r DeliveryReport) FirstError() string {
	for _, o := range r.Outcomes {
		if !o.Delivered && o.Error != nil {
			return string(o.Channel) + ": " + *o.Error
		}
	}
	return ""
}

// DeliveryReceipt is persisted in the idempotency store, keyed by record id.
// Once DeliveredAny is true the record is never submitted again by a run.
type DeliveryReceipt struct {
	RecordID            string                `json:"record_id"`
	Title               string                `json:"title,omitempty"`
	DeliveredAny        bool                  `json:"delivered_any"`
	DeliveredAt         time.Time             `json:"delivered_at"`
	PerChannelReference map[ChannelID]*string `json:"per_channel_reference"`
	LastError           *string               `json:"last_error,omitempty"`
}

// NewReceipt builds the receipt that records a delivery report.
func NewReceipt(rec Record, report DeliveryReport, at time.Time) DeliveryReceipt {
	receipt := DeliveryReceipt{
		RecordID:            rec.ID,
		Title:               rec.Title,
		DeliveredAny:        report.AnySuccess,
		DeliveredAt:         at,
		PerChannelReference: make(map[ChannelID]*string, len(report.Outcomes)),
	}
	for _, o := range report.Outcomes {
		receipt.PerChannelReference[o.Channel] = o.Reference
	}
	if msg := report.FirstError(); msg != "" {
		receipt.LastError = &msg
	}
	return receipt
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
