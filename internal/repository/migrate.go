package repository

import (
	"errors"

	"gorm.io/gorm"

	"travel-admin-backend/internal/apperr"
	"travel-admin-backend/internal/models"
)

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return apperr.Persistence("auto migrate", err)
	}
	return nil
}

// wrap maps gorm errors onto the application taxonomy.
func wrap(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(entity, id)
	}
	return apperr.Persistence(op, err)
}
