package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ReceivedFile is one ledger row.
type ReceivedFile struct {
	ID         uint `gorm:"primaryKey"`
	Name       string
	Path       string
	Size       int64
	SHA256     string `gorm:"index"`
	ReceivedAt int64
}

// Ledger records received files in SQLite.
type Ledger struct {
	db *gorm.DB
}

// OpenLedger opens or creates the database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt: true,
		Logger:      logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.AutoMigrate(&ReceivedFile{}); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("migrate ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Record inserts f. A zero ReceivedAt is set to now.
func (l *Ledger) Record(ctx context.Context, f ReceivedFile) (ReceivedFile, error) {
	if f.ReceivedAt == 0 {
		f.ReceivedAt = time.Now().Unix()
	}
	if err := l.db.WithContext(ctx).Create(&f).Error; err != nil {
		return ReceivedFile{}, fmt.Errorf("record %s: %w", f.Name, err)
	}
	return f, nil
}

// List returns every row, oldest first.
func (l *Ledger) List(ctx context.Context) ([]ReceivedFile, error) {
	var files []ReceivedFile
	if err := l.db.WithContext(ctx).Order("id").Find(&files).Error; err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	return files, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return closeDB(l.db)
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
