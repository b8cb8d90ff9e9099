package bootstrap

import (
	"testing"

	"schooldesk/internal/config"
	"schooldesk/internal/models"
	"schooldesk/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func rootConfig() *config.Config {
	return &config.Config{
		Env:              "development",
		DevBootstrapRoot: true,
		DevRootEmail:     " Root@Schooldesk.Local ",
		DevRootPassword:  "first-Passw0rd!",
	}
}

func TestEnsureDevRootAdmin_CreatesThenRestoresRole(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	cfg := rootConfig()

	require.NoError(t, ensureDevRootAdmin(cfg, db))

	var root models.User
	require.NoError(t, db.Where("email = ?", "root@schooldesk.local").First(&root).Error)
	assert.Equal(t, models.RoleAdmin, root.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(root.Password), []byte("first-Passw0rd!")))

	school := testutil.CreateSchool(t, db, "Hillview", 0)
	require.NoError(t, db.Model(&root).Updates(map[string]any{"role": models.RoleSchool, "school_id": school.ID}).Error)

	cfg.DevRootPassword = "second-Passw0rd!"
	require.NoError(t, ensureDevRootAdmin(cfg, db))

	var again models.User
	require.NoError(t, db.First(&again, root.ID).Error)
	assert.Equal(t, models.RoleAdmin, again.Role)
	assert.Nil(t, again.SchoolID)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(again.Password), []byte("first-Passw0rd!")),
		"password is kept without force")

	cfg.DevRootForceCredentials = true
	require.NoError(t, ensureDevRootAdmin(cfg, db))
	require.NoError(t, db.First(&again, root.ID).Error)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(again.Password), []byte("second-Passw0rd!")))

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsureDevRootAdmin_Guards(t *testing.T) {
	db := testutil.NewSQLiteDB(t)

	prod := rootConfig()
	prod.Env = "production"
	require.NoError(t, ensureDevRootAdmin(prod, db))

	off := rootConfig()
	off.DevBootstrapRoot = false
	require.NoError(t, ensureDevRootAdmin(off, db))

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.Zero(t, count)

	noPassword := rootConfig()
	noPassword.DevRootPassword = ""
	assert.ErrorContains(t, ensureDevRootAdmin(noPassword, db), "DEV_ROOT_PASSWORD")
}

func TestSeedIfEmpty_SkipsPopulatedDatabase(t *testing.T) {
	db := testutil.NewSQLiteDB(t)
	testutil.CreateSchool(t, db, "Existing", 10)

	require.NoError(t, seedIfEmpty(db))

	var schools int64
	require.NoError(t, db.Model(&models.School{}).Count(&schools).Error)
	assert.Equal(t, int64(1), schools)
}
