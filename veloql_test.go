package veloql_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/veloql"
)

func TestItem(t *testing.T) {
	t.Parallel()

	item := veloql.Item{"id": "c1", "tags": []any{"a"}, "nil": nil}
	assert.Equal(t, "c1", item.ID())
	assert.True(t, item.Has("id"))
	assert.False(t, item.Has("nil"))
	assert.False(t, item.Has("missing"))

	clone := item.Clone()
	clone["tags"] = append(clone["tags"].([]any), "b")
	assert.Equal(t, []any{"a"}, item["tags"])
	assert.Equal(t, "", veloql.Item{}.ID())
	assert.Equal(t, "7", veloql.Item{"id": 7}.ID())
	assert.Nil(t, veloql.Item(nil).Clone())
}

func TestOp(t *testing.T) {
	t.Parallel()

	assert.True(t, veloql.OpCreate.Is(veloql.OpSave))
	assert.True(t, veloql.OpDelete.Is(veloql.OpWrite))
	assert.False(t, veloql.OpTypeQuery.Is(veloql.OpWrite))
	assert.Equal(t, "OpCreate|OpUpdate", veloql.OpSave.String())
	assert.Equal(t, "Op(0)", veloql.Op(0).String())
}

func TestCacheKey(t *testing.T) {
	t.Parallel()

	key := veloql.CacheKey{Entity: "Car", Operation: "types", Filter: `brand == "bmw"`, Sort: "name_ASC", Size: 10}
	assert.Equal(t, `veloql:Car:types::brand == "bmw":name_ASC:0:10`, key.String())
	assert.Equal(t, "veloql:Car:", key.Prefix())
}

func TestViolation(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "name: is required", veloql.Violation{Attribute: "name", Message: "is required"}.String())
	assert.Equal(t, "invalid", veloql.Violation{Message: "invalid"}.String())
}
