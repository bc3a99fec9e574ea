package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlockPoolAllocReturnsZeroedBlockWithRefcountOne(t *testing.T) {
	pool := NewBlockPool(2)

	b := pool.Alloc()
	assert.NotNil(t, b)
	assert.Equal(t, float32(0), b.Millimeters)
	assert.Equal(t, int32(1), b.refcount)
}

func TestBlockPoolAllocExhaustionReturnsNil(t *testing.T) {
	pool := NewBlockPool(1)

	b1 := pool.Alloc()
	assert.NotNil(t, b1)

	b2 := pool.Alloc()
	assert.Nil(t, b2, "pool must back-pressure rather than allocate once exhausted")
}

func TestBlockReleaseReturnsSlotToPool(t *testing.T) {
	pool := NewBlockPool(1)

	b1 := pool.Alloc()
	assert.Nil(t, pool.Alloc())

	b1.Release()

	b2 := pool.Alloc()
	assert.NotNil(t, b2, "slot must be reusable once refcount reaches zero")
}

func TestBlockTakeDelaysRelease(t *testing.T) {
	pool := NewBlockPool(1)

	b := pool.Alloc()
	b.Take() // refcount 2

	b.Release() // refcount 1, still held
	assert.Nil(t, pool.Alloc(), "block must stay checked out while a second holder remains")

	b.Release() // refcount 0, returns to pool
	assert.NotNil(t, pool.Alloc())
}

func TestBlockNumAxesCountsHighestNonZeroSlot(t *testing.T) {
	b := &Block{}
	b.Steps[0] = 10
	b.Steps[2] = 5

	assert.Equal(t, 3, b.NumAxes())
}

func TestBlockNumAxesAllZero(t *testing.T) {
	b := &Block{}
	assert.Equal(t, 0, b.NumAxes())
}
