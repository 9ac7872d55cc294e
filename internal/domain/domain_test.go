package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountRoles_SetAndList(t *testing.T) {
	roles := MakeRoles(RoleManager, RoleTrader)

	assert.True(t, roles.Test(RoleTrader))
	assert.True(t, roles.Test(RoleManager))
	assert.False(t, roles.Test(RoleAdministrator))
	assert.Equal(t, []AccountRole{RoleTrader, RoleManager}, roles.List())
	assert.Equal(t, "TRADER|MANAGER", roles.String())

	var empty AccountRoles
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, "NONE", empty.String())
	empty.Set(RoleService)
	assert.Equal(t, MakeRoles(RoleService), empty)
}

func TestRequestStatus_IsTerminal(t *testing.T) {
	terminal := map[RequestStatus]bool{
		StatusNone:      false,
		StatusPending:   false,
		StatusReviewed:  false,
		StatusScheduled: false,
		StatusGranted:   true,
		StatusRejected:  true,
	}
	for status, expected := range terminal {
		assert.Equal(t, expected, status.IsTerminal(), status.String())
	}
}

func TestMessage_NormalizeSynthesizesBody(t *testing.T) {
	message := Message{ID: 3}.Normalize()

	if len(message.Bodies) != 1 {
		t.Fatalf("expected one body, got %d", len(message.Bodies))
	}
	assert.Equal(t, PlainTextBody(""), message.Bodies[0])
	assert.False(t, message.HasText())

	withText := Message{Bodies: []MessageBody{{Message: "please review"}}}.Normalize()
	assert.Equal(t, PlainTextContentType, withText.Body().ContentType)
	assert.True(t, withText.HasText())
}

func TestDirectoryEntry_EqualIgnoresName(t *testing.T) {
	a := MakeAccount(7, "alice")
	assert.True(t, a.Equal(MakeAccount(7, "")))
	assert.False(t, a.Equal(MakeDirectory(7, "alice")))
	assert.True(t, ContainsEntry([]DirectoryEntry{MakeDirectory(1, "x"), a}, MakeAccount(7, "other")))
}

func TestMarketDataTypeSet_Parse(t *testing.T) {
	set, err := ParseMarketDataTypeSet([]string{"bbo_quote", "TIME_AND_SALE"})
	if err != nil {
		t.Fatalf("unexpected error on parse: %v", err)
	}
	assert.True(t, set.Test(MarketDataBboQuote))
	assert.True(t, set.Test(MarketDataTimeAndSale))
	assert.False(t, set.Test(MarketDataBookQuote))
	assert.Equal(t, "TIME_AND_SALE|BBO_QUOTE", set.String())

	_, err = ParseMarketDataTypeSet([]string{"LEVEL_3"})
	assert.Error(t, err)
}
