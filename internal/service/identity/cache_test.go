package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	calls atomic.Int32
	admin bool
	err   error
}

func (d *countingDirectory) IsPrivilegedAuthor(context.Context, string) (bool, error) {
	d.calls.Add(1)
	return d.admin, d.err
}

func (d *countingDirectory) IsAdmin(context.Context, string) (bool, error) {
	d.calls.Add(1)
	return d.admin, d.err
}

func TestCache_HitsAvoidLookups(t *testing.T) {
	dir := &countingDirectory{admin: true}
	c := NewCache(dir, 10, time.Minute)

	for i := 0; i < 3; i++ {
		ok, err := c.IsAdmin(context.Background(), "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	assert.Equal(t, int32(1), dir.calls.Load())

	// separate question, separate entry
	_, err := c.IsPrivilegedAuthor(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), dir.calls.Load())

	c.Forget("u1")
	_, err = c.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), dir.calls.Load())
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	dir := &countingDirectory{err: errors.New("db down")}
	c := NewCache(dir, 10, time.Minute)

	_, err := c.IsAdmin(context.Background(), "u1")
	require.Error(t, err)

	dir.err = nil
	dir.admin = true
	ok, err := c.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), dir.calls.Load())
}

func TestCache_EntriesExpire(t *testing.T) {
	dir := &countingDirectory{}
	c := NewCache(dir, 10, 20*time.Millisecond)

	_, err := c.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)
	time.Sleep(60 * time.Millisecond)
	_, err = c.IsAdmin(context.Background(), "u1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), dir.calls.Load())
}
