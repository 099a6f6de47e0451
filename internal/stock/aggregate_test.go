package stock

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProductID(t *testing.T) {
	cases := []struct {
		in   string
		want ProductID
		ok   bool
	}{
		{"42", 42, true},
		{"0042", 42, true},
		{" 7 ", 7, true},
		{"", 0, false},
		{"abc", 0, false},
		{"12x", 0, false},
		{"-3", 0, false},
		{"1.5", 0, false},
	}
	for _, c := range cases {
		got, err := ParseProductID(c.in)
		if !c.ok {
			assert.ErrorIs(t, err, ErrMalformedLine, "input %q", c.in)
			continue
		}
		require.NoError(t, err, "input %q", c.in)
		assert.Equal(t, c.want, got)
	}
}

func TestAggregate_SumsDuplicatesAndFlagsMalformed(t *testing.T) {
	req, bad := Aggregate([]Item{
		{Index: 0, ProductID: "1", Qty: 3},
		{Index: 1, ProductID: "0001", Qty: 2},
		{Index: 2, ProductID: "bolt", Qty: 5},
		{Index: 3, ProductID: "2", Qty: 0},
		{Index: 4, ProductID: "2", Qty: 4},
	})

	assert.Equal(t, Request{1: 5, 2: 4}, req)
	require.Len(t, bad, 1)
	assert.Equal(t, 2, bad[0].Index)
	assert.Equal(t, "bolt", bad[0].ProductID)
}

func TestDropUnknown(t *testing.T) {
	items := []Item{
		{Index: 0, ProductID: "1", Qty: 1},
		{Index: 1, ProductID: "9", Qty: 2},
		{Index: 2, ProductID: "009", Qty: 1},
	}
	req, _ := Aggregate(items)

	bad := DropUnknown(req, items, map[ProductID]int{1: 10})

	assert.Equal(t, Request{1: 1}, req)
	require.Len(t, bad, 2)
	assert.Equal(t, 1, bad[0].Index)
	assert.Equal(t, 2, bad[1].Index)
	assert.Equal(t, "unknown product", bad[0].Reason)
}

func TestCovers(t *testing.T) {
	short := Covers(Request{1: 3, 2: 2, 3: 1}, map[ProductID]int{1: 5, 2: 1})

	assert.Equal(t, []Shortfall{
		{ProductID: 2, Required: 2, Available: 1},
		{ProductID: 3, Required: 1, Unknown: true},
	}, short)
	assert.Empty(t, Covers(Request{1: 5}, map[ProductID]int{1: 5}))
}

func TestInsufficientError(t *testing.T) {
	err := error(&InsufficientError{Shortfalls: []Shortfall{{ProductID: 2, Required: 2, Available: 1}}})

	assert.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Contains(t, err.Error(), "2: need 2 have 1")
}

func TestRequestIDsSorted(t *testing.T) {
	assert.Equal(t, []ProductID{1, 5, 9}, Request{9: 1, 1: 1, 5: 1}.IDs())
	assert.Equal(t, map[ProductID]int{1: -2}, Request{1: 2}.Negate())
}
