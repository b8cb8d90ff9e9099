package database

import "schooldesk/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models,
// ordered so that referenced tables come first.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.School{},
		&models.User{},
		&models.Submission{},
		&models.Blog{},
		&models.Transaction{},
		&models.SocialToken{},
		&models.SocialPost{},
	}
}
