package domain

import (
	"time"
)

type RequestType int

const (
	RequestTypeEntitlements RequestType = iota
	RequestTypeRisk
)

func (t RequestType) String() string {
	switch t {
	case RequestTypeEntitlements:
		return "ENTITLEMENTS"
	case RequestTypeRisk:
		return "RISK"
	default:
		return "UNKNOWN"
	}
}

type RequestStatus int

const (
	StatusNone RequestStatus = iota
	StatusPending
	StatusReviewed
	StatusScheduled
	StatusGranted
	StatusRejected
)

func (s RequestStatus) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusPending:
		return "PENDING"
	case StatusReviewed:
		return "REVIEWED"
	case StatusScheduled:
		return "SCHEDULED"
	case StatusGranted:
		return "GRANTED"
	case StatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further updates may follow this status.
func (s RequestStatus) IsTerminal() bool {
	return s == StatusGranted || s == StatusRejected
}

// AccountModificationRequest is immutable once created.
type AccountModificationRequest struct {
	ID         int64          `json:"id"`
	Type       RequestType    `json:"type"`
	Account    DirectoryEntry `json:"account"`
	Submission DirectoryEntry `json:"submission_account"`
	Timestamp  time.Time      `json:"timestamp"`
}

// RequestUpdate is one append-only status record of a request.
type RequestUpdate struct {
	Status         RequestStatus  `json:"status"`
	Account        DirectoryEntry `json:"account"`
	SequenceNumber int            `json:"sequence_number"`
	Timestamp      time.Time      `json:"timestamp"`
}

type EntitlementModification struct {
	Entitlements []DirectoryEntry `json:"entitlements"`
}

type RiskModification struct {
	Parameters RiskParameters `json:"parameters"`
}
