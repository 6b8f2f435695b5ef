package store

import (
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/thinkpilot/nodeflow/records"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// storedFile is a file region persisted to the SQLite database.
type storedFile struct {
	ID          uint
	FileID      int `gorm:"uniqueIndex"`
	RecordSize  int
	RecordCount int
	Data        []byte
}

// SQLiteStore persists files to the local file system (sqlite), standing in for the EEPROM when the node runs on a host.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Migrate the schema
	err = db.AutoMigrate(&storedFile{})
	if err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &SQLiteStore{
		db: db,
	}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLiteStore) Create(id records.FileID, recordSize, recordCount int) error {
	if recordSize <= 0 || recordCount <= 0 {
		return fmt.Errorf("file %d: invalid geometry %dx%d", id, recordSize, recordCount)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		existing, err := findFile(tx, id)
		if err == nil {
			if existing.RecordSize != recordSize || existing.RecordCount != recordCount {
				return fmt.Errorf("file %d: %w", id, ErrGeometryMismatch)
			}
			return fmt.Errorf("file %d: %w", id, ErrFileExists)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		file := storedFile{
			FileID:      int(id),
			RecordSize:  recordSize,
			RecordCount: recordCount,
			Data:        make([]byte, recordSize*recordCount),
		}
		result := tx.Create(&file)
		return result.Error
	})
}

func (s *SQLiteStore) Read(id records.FileID, offset, n int) ([]byte, error) {
	file, err := findFile(s.db, id)
	if err != nil {
		return nil, err
	}
	if err := checkRange(id, file.geometry(), offset, n); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, file.Data[offset:offset+n])
	return out, nil
}

func (s *SQLiteStore) Write(id records.FileID, offset int, data []byte) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		file, err := findFile(tx, id)
		if err != nil {
			return err
		}
		if err := checkRange(id, file.geometry(), offset, len(data)); err != nil {
			return err
		}
		copy(file.Data[offset:], data)
		result := tx.Model(&storedFile{}).Where("id = ?", file.ID).UpdateColumn("data", file.Data)
		return result.Error
	})
}

func findFile(db *gorm.DB, id records.FileID) (storedFile, error) {
	var file storedFile
	result := db.Where("file_id = ?", int(id)).Limit(1).Find(&file)
	if result.Error != nil {
		return storedFile{}, fmt.Errorf("query file %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return storedFile{}, fmt.Errorf("file %d: %w", id, ErrNotFound)
	}
	return file, nil
}

func (f storedFile) geometry() Geometry {
	return Geometry{RecordSize: f.RecordSize, RecordCount: f.RecordCount}
}
