package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFlagsDropsUnknown(t *testing.T) {
	flags := ParseFlags([]string{"remove_delivered", "EDITABLE", "bogus", " deletable "})

	assert.True(t, flags.Has(FlagRemoveDelivered))
	assert.True(t, flags.Has(FlagEditable))
	assert.True(t, flags.Has(FlagDeletable))
	assert.Len(t, flags, 3)
}

func TestValidFlags(t *testing.T) {
	assert.True(t, ValidFlags(nil))
	assert.True(t, ValidFlags([]string{"editable", "deletable"}))
	assert.False(t, ValidFlags([]string{"editable", "nope"}))
}

func TestFlagsColumnRoundTrip(t *testing.T) {
	flags := ParseFlags([]string{"deletable", "remove_delivered"})

	column := flags.Dump()
	assert.Equal(t, "deletable,remove_delivered", column)

	decoded := FlagsFromColumn(column)
	assert.Equal(t, flags, decoded)
}

func TestFlagsFromEmptyColumn(t *testing.T) {
	flags := FlagsFromColumn("")
	assert.Empty(t, flags)
	assert.Equal(t, "", flags.Dump())
}
