package clinic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ids(ds []Doctor) []uint {
	out := make([]uint, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestRotate(t *testing.T) {
	doctors := []Doctor{{ID: 1}, {ID: 2}, {ID: 3}}
	last := func(id uint) *uint { return &id }

	assert.Equal(t, []uint{1, 2, 3}, ids(rotate(doctors, nil)))
	assert.Equal(t, []uint{2, 3, 1}, ids(rotate(doctors, last(1))))
	assert.Equal(t, []uint{1, 2, 3}, ids(rotate(doctors, last(3))))
	assert.Equal(t, []uint{1, 2, 3}, ids(rotate(doctors, last(9))))
	assert.Equal(t, []uint{1}, ids(rotate(doctors[:1], last(1))))
}
