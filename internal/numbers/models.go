package numbers

import (
	"errors"
	"regexp"
	"time"
)

var (
	ErrNotFound           = errors.New("numbers: phone number not found")
	ErrAlreadyProvisioned = errors.New("numbers: phone number already provisioned")
	ErrInvalidNumber      = errors.New("numbers: phone number must be E.164")
)

type Status string

const (
	StatusActive   Status = "active"
	StatusReleased Status = "released"
)

// PhoneNumber is a carrier number owned by a tenant. Number is unique across
// tenants; a released number can be provisioned again.
type PhoneNumber struct {
	ID              string    `json:"id"`
	TenantID        string    `json:"tenant_id"`
	Number          string    `json:"number"`
	CarrierNumberID string    `json:"carrier_number_id,omitempty"`
	Status          Status    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

func ValidE164(n string) bool { return e164.MatchString(n) }
