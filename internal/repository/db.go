package repository

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDatabase открывает SQLite базу. WAL и busy timeout, одно соединение:
// записи в одну строку сериализуются на уровне драйвера.
func OpenDatabase(dsn string) (*gorm.DB, error) {
	inMemory := dsn == ":memory:" || strings.Contains(dsn, "mode=memory")

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_busy_timeout=5000&_foreign_keys=on"
	if !inMemory {
		dsn += "&_journal_mode=WAL"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true, // SQLite ограничения
		Logger:                                   logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	logrus.WithField("dsn", dsn).Debug("Database opened")
	return db, nil
}
