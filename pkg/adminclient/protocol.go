package adminclient

import (
	"admin_service/internal/domain"
)

// Method names served by the administration servlet.
const (
	MethodLoadAccountsByRoles                        = "load_accounts_by_roles"
	MethodLoadAdministratorsRootEntry                = "load_administrators_root_entry"
	MethodLoadServicesRootEntry                      = "load_services_root_entry"
	MethodLoadTradingGroupsRootEntry                 = "load_trading_groups_root_entry"
	MethodCheckAdministrator                         = "check_administrator"
	MethodLoadAccountRoles                           = "load_account_roles"
	MethodLoadSupervisedAccountRoles                 = "load_supervised_account_roles"
	MethodLoadParentTradingGroup                     = "load_parent_trading_group"
	MethodLoadAccountIdentity                        = "load_account_identity"
	MethodStoreAccountIdentity                       = "store_account_identity"
	MethodLoadTradingGroup                           = "load_trading_group"
	MethodLoadManagedTradingGroups                   = "load_managed_trading_groups"
	MethodLoadAdministrators                         = "load_administrators"
	MethodLoadServices                               = "load_services"
	MethodLoadEntitlements                           = "load_entitlements"
	MethodLoadAccountEntitlements                    = "load_account_entitlements"
	MethodStoreEntitlements                          = "store_entitlements"
	MethodMonitorRiskParameters                      = "monitor_risk_parameters"
	MethodStoreRiskParameters                        = "store_risk_parameters"
	MethodMonitorRiskState                           = "monitor_risk_state"
	MethodStoreRiskState                             = "store_risk_state"
	MethodLoadAccountModificationRequest             = "load_account_modification_request"
	MethodLoadAccountModificationRequestIds          = "load_account_modification_request_ids"
	MethodLoadManagedAccountModificationRequestIds   = "load_managed_account_modification_request_ids"
	MethodLoadSubmittedAccountModificationRequestIds = "load_submitted_account_modification_request_ids"
	MethodLoadEntitlementModification                = "load_entitlement_modification"
	MethodSubmitEntitlementModificationRequest       = "submit_entitlement_modification_request"
	MethodLoadRiskModification                       = "load_risk_modification"
	MethodSubmitRiskModificationRequest              = "submit_risk_modification_request"
	MethodLoadAccountModificationRequestStatus       = "load_account_modification_request_status"
	MethodLoadAccountModificationRequestUpdates      = "load_account_modification_request_updates"
	MethodApproveAccountModificationRequest          = "approve_account_modification_request"
	MethodRejectAccountModificationRequest           = "reject_account_modification_request"
	MethodLoadMessage                                = "load_message"
	MethodLoadMessageIds                             = "load_message_ids"
	MethodSendAccountModificationRequestMessage      = "send_account_modification_request_message"
)

// Pushes sent to monitoring sessions.
const (
	PushRiskParameters = "risk_parameters_changed"
	PushRiskState      = "risk_state_changed"
)

type Empty struct{}

type AccountRequest struct {
	Account domain.DirectoryEntry `json:"account"`
}

type RolesRequest struct {
	Roles domain.AccountRoles `json:"roles"`
}

type SupervisedRolesRequest struct {
	Parent domain.DirectoryEntry `json:"parent"`
	Child  domain.DirectoryEntry `json:"child"`
}

type StoreIdentityRequest struct {
	Account  domain.DirectoryEntry  `json:"account"`
	Identity domain.AccountIdentity `json:"identity"`
}

type StoreEntitlementsRequest struct {
	Account      domain.DirectoryEntry   `json:"account"`
	Entitlements []domain.DirectoryEntry `json:"entitlements"`
}

type StoreRiskParametersRequest struct {
	Account    domain.DirectoryEntry `json:"account"`
	Parameters domain.RiskParameters `json:"parameters"`
}

type StoreRiskStateRequest struct {
	Account domain.DirectoryEntry `json:"account"`
	State   domain.RiskState      `json:"state"`
}

type IdRequest struct {
	ID int64 `json:"id"`
}

// RequestIdsRequest pages through request ids greater than StartID; a
// StartID of -1 starts from the beginning.
type RequestIdsRequest struct {
	Account  domain.DirectoryEntry `json:"account"`
	StartID  int64                 `json:"start_id"`
	MaxCount int                   `json:"max_count"`
}

type SubmitEntitlementModificationRequest struct {
	Account      domain.DirectoryEntry          `json:"account"`
	Modification domain.EntitlementModification `json:"modification"`
	Comment      domain.Message                 `json:"comment"`
}

type SubmitRiskModificationRequest struct {
	Account      domain.DirectoryEntry   `json:"account"`
	Modification domain.RiskModification `json:"modification"`
	Comment      domain.Message          `json:"comment"`
}

type ReviewRequest struct {
	ID      int64          `json:"id"`
	Comment domain.Message `json:"comment"`
}

type SendMessageRequest struct {
	ID      int64          `json:"id"`
	Message domain.Message `json:"message"`
}

type RiskParametersPush struct {
	Account    domain.DirectoryEntry `json:"account"`
	Parameters domain.RiskParameters `json:"parameters"`
}

type RiskStatePush struct {
	Account domain.DirectoryEntry `json:"account"`
	State   domain.RiskState      `json:"state"`
}
