package domain

const (
	ManagersDirectoryName = "managers"
	TradersDirectoryName  = "traders"
)

// TradingGroup is read-derived from a group directory and its two
// subgroups.
type TradingGroup struct {
	Entry             DirectoryEntry   `json:"entry"`
	ManagersDirectory DirectoryEntry   `json:"managers_directory"`
	Managers          []DirectoryEntry `json:"managers"`
	TradersDirectory  DirectoryEntry   `json:"traders_directory"`
	Traders           []DirectoryEntry `json:"traders"`
}
