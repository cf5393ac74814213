package database

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ManuelReschke/PayProof/app/models"
	"github.com/ManuelReschke/PayProof/internal/pkg/env"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DB is the process-wide database handle, set by SetupDatabase.
var DB *gorm.DB

// GetDB returns the database handle
func GetDB() *gorm.DB {
	return DB
}

// Models lists every table owned by this service.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.WalletConfig{},
		&models.AutoMatchingRule{},
		&models.PaymentRequest{},
		&models.VerificationLog{},
		&models.UserPurchase{},
	}
}

// Dialector picks the GORM driver from DB_DRIVER (mysql, postgres or sqlite).
func Dialector(driver string) (gorm.Dialector, error) {
	switch driver {
	case "", "mysql":
		// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", ""),
		)
		return mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), nil
	case "postgres":
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_NAME", ""),
			env.GetEnv("DB_PORT", "5432"),
			env.GetEnv("DB_SSLMODE", "disable"),
		)
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(env.GetEnv("DB_SQLITE_PATH", "payproof.db")), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// Open connects with the given dialector and migrates the schema.
func Open(dialector gorm.Dialector, autoMigrate bool) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	if autoMigrate {
		if err := db.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("auto migrate failed: %w", err)
		}
	}
	return db, nil
}

func SetupDatabase() {
	driver := env.GetEnv("DB_DRIVER", "mysql")
	dialector, err := Dialector(driver)
	if err != nil {
		panic(err)
	}

	// MySQL schema is owned by cmd/migrate; the other drivers are dev setups.
	autoMigrate := driver != "mysql" || env.GetEnv("DB_AUTO_MIGRATE", "false") == "true"

	for i := 0; i < maxRetries; i++ {
		DB, err = Open(dialector, autoMigrate)
		if err == nil {
			return
		}

		log.Printf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Printf("Retry number %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// Ping checks the underlying connection
func Ping() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// NewInMemory opens a migrated, private in-memory SQLite database.
func NewInMemory(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.NewReplacer("/", "_", " ", "_").Replace(name))
	db, err := Open(sqlite.Open(dsn), true)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
