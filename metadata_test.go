package realtime_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/autom8ter/realtime"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
)

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	c, ok := realtime.GetMetadata(ctx)
	assert.False(t, ok)
	assert.NotNil(t, c)
	c = realtime.NewMetadata(map[string]any{
		"testing": true,
	})
	v, ok := c.Get("testing")
	assert.True(t, ok)
	assert.True(t, cast.ToBool(v))
	c.Set("testing", false)
	v, ok = c.Get("testing")
	assert.True(t, ok)
	assert.False(t, cast.ToBool(v))
	assert.NotNil(t, c.Map())
	assert.True(t, c.Exists("testing"))
	bits, err := json.Marshal(c)
	assert.Nil(t, err)
	assert.Equal(t, "{\"testing\":false}", string(bits))
	assert.Equal(t, "{\"testing\":false}", c.String())

	c.Del("testing")

	v, ok = c.Get("testing")
	assert.False(t, ok)
	assert.Nil(t, v)

	c.Set(realtime.MetadataKeyUserID, "123")
	assert.Equal(t, "123", c.GetString(realtime.MetadataKeyUserID))
	assert.Equal(t, "", c.GetString(realtime.MetadataKeyClaims))

	ctx = c.ToContext(ctx)
	c, ok = realtime.GetMetadata(ctx)
	assert.True(t, ok)
	assert.NotNil(t, c)

	assert.Nil(t, json.Unmarshal(bits, c))
	assert.True(t, c.Exists("testing"))
}
