package domain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// MarketDataType is one category of market data an entitlement may cover.
type MarketDataType uint8

const (
	MarketDataTimeAndSale MarketDataType = 1 << iota
	MarketDataBookQuote
	MarketDataMarketQuote
	MarketDataBboQuote
	MarketDataOrderImbalance
)

var marketDataTypeNames = []struct {
	t    MarketDataType
	name string
}{
	{MarketDataTimeAndSale, "TIME_AND_SALE"},
	{MarketDataBookQuote, "BOOK_QUOTE"},
	{MarketDataMarketQuote, "MARKET_QUOTE"},
	{MarketDataBboQuote, "BBO_QUOTE"},
	{MarketDataOrderImbalance, "ORDER_IMBALANCE"},
}

func ParseMarketDataType(s string) (MarketDataType, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	for _, entry := range marketDataTypeNames {
		if entry.name == name {
			return entry.t, nil
		}
	}
	return 0, fmt.Errorf("unknown market data type %q", s)
}

// MarketDataTypeSet is a bitmask of MarketDataType values.
type MarketDataTypeSet uint8

func ParseMarketDataTypeSet(names []string) (MarketDataTypeSet, error) {
	var set MarketDataTypeSet
	for _, name := range names {
		t, err := ParseMarketDataType(name)
		if err != nil {
			return 0, err
		}
		set |= MarketDataTypeSet(t)
	}
	return set, nil
}

func (s MarketDataTypeSet) Test(t MarketDataType) bool {
	return s&MarketDataTypeSet(t) != 0
}

func (s MarketDataTypeSet) String() string {
	var names []string
	for _, entry := range marketDataTypeNames {
		if s.Test(entry.t) {
			names = append(names, entry.name)
		}
	}
	if len(names) == 0 {
		return "NONE"
	}
	return strings.Join(names, "|")
}

// EntitlementEntry describes one grantable entitlement. Holding the
// entitlement means being a child of GroupEntry.
type EntitlementEntry struct {
	Name          string                       `json:"name"`
	Price         decimal.Decimal              `json:"price"`
	Currency      string                       `json:"currency"`
	GroupEntry    DirectoryEntry               `json:"group_entry"`
	Applicability map[string]MarketDataTypeSet `json:"applicability"`
}

// EntitlementDatabase is the read-only set of entitlements the service
// recognizes.
type EntitlementDatabase struct {
	Entries []EntitlementEntry `json:"entries"`
}

// Lookup finds the entitlement whose group is the given entry.
func (d EntitlementDatabase) Lookup(group DirectoryEntry) (EntitlementEntry, bool) {
	for _, entry := range d.Entries {
		if entry.GroupEntry.Equal(group) {
			return entry, true
		}
	}
	return EntitlementEntry{}, false
}

func (d EntitlementDatabase) Contains(group DirectoryEntry) bool {
	_, ok := d.Lookup(group)
	return ok
}

// Groups returns the group entry of every entitlement ordered by id.
func (d EntitlementDatabase) Groups() []DirectoryEntry {
	groups := make([]DirectoryEntry, 0, len(d.Entries))
	for _, entry := range d.Entries {
		groups = append(groups, entry.GroupEntry)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}
