package models

import "time"

// Role is the coarse permission class of a user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWriter Role = "writer"
	RoleSchool Role = "school"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleWriter, RoleSchool:
		return true
	}
	return false
}

// User is an authenticated actor. School users always carry a SchoolID.
type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Email     string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	Role      Role      `gorm:"type:varchar(16);not null;default:'school'" json:"role"`
	SchoolID  *uint     `gorm:"index" json:"school_id,omitempty"`
	School    *School   `gorm:"foreignKey:SchoolID" json:"school,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// IsStaff reports whether the user is a writer or an admin.
func (u *User) IsStaff() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleWriter)
}

// BelongsTo reports whether a school user is attached to the given school.
func (u *User) BelongsTo(schoolID uint) bool {
	return u != nil && u.SchoolID != nil && *u.SchoolID == schoolID
}
