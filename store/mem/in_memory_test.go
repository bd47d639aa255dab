package mem

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestMemStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()

	value, err := s.Get(ctx, "/execution/", "missing")
	assert.Nil(t, err)
	assert.Nil(t, value)

	for _, id := range []string{"tx-3", "tx-1", "tx-2"} {
		assert.Nil(t, s.Set(ctx, "/execution/", id, []byte(id)))
	}
	assert.Nil(t, s.Set(ctx, "/execution/", "tx-3", []byte("updated")))
	assert.Nil(t, s.Set(ctx, "/workflow/", "active", []byte("{}")))

	value, err = s.Get(ctx, "/execution/", "tx-3")
	assert.Nil(t, err)
	assert.Equal(t, []byte("updated"), value)

	keys := make([]string, 0)
	assert.Nil(t, s.List(ctx, "/execution/", func(key string) bool {
		keys = append(keys, key)
		return true
	}))
	assert.Equal(t, []string{"tx-3", "tx-1", "tx-2"}, keys)

	assert.Nil(t, s.Remove(ctx, "/execution/", "tx-1"))
	assert.Nil(t, s.Remove(ctx, "/execution/", "tx-1"))

	keys = keys[:0]
	assert.Nil(t, s.List(ctx, "/execution/", func(key string) bool {
		keys = append(keys, key)
		return false
	}))
	assert.Equal(t, []string{"tx-3"}, keys)
}

func TestMemStoreErrHandler(t *testing.T) {
	ctx := context.Background()
	failing := false
	s := NewMemStoreWithErrHandler(func() error {
		if failing {
			return errors.New("mock store failure")
		}
		return nil
	})

	assert.Nil(t, s.Set(ctx, "/workflow/", "active", []byte("v1")))
	failing = true
	assert.NotNil(t, s.Set(ctx, "/workflow/", "active", []byte("v2")))
	_, err := s.Get(ctx, "/workflow/", "active")
	assert.NotNil(t, err)

	failing = false
	value, err := s.Get(ctx, "/workflow/", "active")
	assert.Nil(t, err)
	assert.Equal(t, []byte("v1"), value)
}
