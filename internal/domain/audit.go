package domain

import (
	"time"
)

type AuditAction string

const (
	AuditGrantEntitlement  AuditAction = "grant_entitlement"
	AuditRevokeEntitlement AuditAction = "revoke_entitlement"
	AuditStatusTransition  AuditAction = "status_transition"
	AuditStoreRisk         AuditAction = "store_risk_parameters"
	AuditStoreRiskState    AuditAction = "store_risk_state"
)

// AuditEvent is one line of the administrative audit trail.
type AuditEvent struct {
	Actor     DirectoryEntry `json:"actor"`
	Action    AuditAction    `json:"action"`
	Target    DirectoryEntry `json:"target"`
	Subject   string         `json:"subject"`
	Timestamp time.Time      `json:"timestamp"`
}
