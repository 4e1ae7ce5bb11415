package statedb

import (
	"errors"
	"strconv"

	"gorm.io/gorm"
)

// SetValue stores value under key.
func (s *Store) SetValue(key, value string) error {
	var metadata SQLiteMetadata

	// Check if the key already exists
	result := s.db.Where("key = ?", key).First(&metadata)
	switch {
	case result.Error == nil:
		return s.db.Model(&metadata).Update("value", value).Error

	case errors.Is(result.Error, gorm.ErrRecordNotFound):
		metadata = SQLiteMetadata{
			Key:   key,
			Value: value,
		}
		return s.db.Create(&metadata).Error

	default:
		return result.Error
	}
}

// GetValue returns the value for key and whether it exists.
func (s *Store) GetValue(key string) (string, bool, error) {
	var metadata SQLiteMetadata

	result := s.db.Where("key = ?", key).First(&metadata)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, result.Error
	}

	return metadata.Value, true, nil
}

// DeleteValue removes key.
func (s *Store) DeleteValue(key string) error {
	return s.db.Unscoped().Where("key = ?", key).
		Delete(&SQLiteMetadata{}).Error
}

// GetFlag returns the boolean stored under key, false when absent.
func (s *Store) GetFlag(key string) (bool, error) {
	value, ok, err := s.GetValue(key)
	if err != nil || !ok {
		return false, err
	}

	return strconv.ParseBool(value)
}

// SetFlag stores a boolean under key.
func (s *Store) SetFlag(key string, value bool) error {
	return s.SetValue(key, strconv.FormatBool(value))
}

// Flags returns every key holding a true boolean.
func (s *Store) Flags() ([]string, error) {
	var rows []SQLiteMetadata
	if err := s.db.Where("value = ?", "true").Order("key").
		Find(&rows).Error; err != nil {

		return nil, err
	}

	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.Key)
	}
	return keys, nil
}
