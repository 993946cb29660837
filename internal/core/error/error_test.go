package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

func TestWrapRedis(t *testing.T) {
	assert.Nil(t, WrapRedis(nil))

	err := WrapRedis(redis.Nil)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.True(t, errors.Is(err, redis.Nil))

	err = WrapRedis(errors.New("connection refused"))
	assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	assert.Equal(t, RedisErrorMessage, MessageOf(err))
}

func TestWrapDB(t *testing.T) {
	assert.Nil(t, WrapDB(nil))

	err := WrapDB(gorm.ErrRecordNotFound)
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))

	err = WrapDB(fmt.Errorf("create cita: %w", gorm.ErrDuplicatedKey))
	assert.Equal(t, http.StatusConflict, StatusOf(err))
	assert.Equal(t, DuplicateMessage, MessageOf(err))
	assert.True(t, errors.Is(err, gorm.ErrDuplicatedKey))

	conflict := Conflict("horario ocupado")
	assert.Same(t, conflict, WrapDB(conflict))

	err = WrapDB(errors.New("syntax error"))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(err))
}

func TestStatusOfWrapped(t *testing.T) {
	err := fmt.Errorf("agendar: %w", Validation("fecha inválida"))
	assert.Equal(t, http.StatusBadRequest, StatusOf(err))
	assert.Equal(t, "fecha inválida", MessageOf(err))

	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))
	assert.Equal(t, SystemErrorMessage, MessageOf(errors.New("boom")))
}
