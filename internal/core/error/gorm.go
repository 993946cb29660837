package errx

import (
	"errors"
	"net/http"

	"gorm.io/gorm"
)

// WrapDB maps gorm errors to AppError. Missing rows become 404 and unique
// violations 409; the latter needs gorm's TranslateError enabled.
func WrapDB(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return New(err, http.StatusNotFound, NotFoundMessage)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return New(err, http.StatusConflict, DuplicateMessage)
	}

	return New(err, http.StatusInternalServerError, DatabaseErrorMessage)
}
