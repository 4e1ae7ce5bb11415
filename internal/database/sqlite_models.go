package statedb

import (
	"time"

	"gorm.io/gorm"
)

// SQLiteMetadata stores small key/value settings such as gate flags.
type SQLiteMetadata struct {
	gorm.Model
	Key   string `gorm:"uniqueIndex"`
	Value string
}

// SQLiteWalletRecord is the local copy of a privacy wallet record.
type SQLiteWalletRecord struct {
	gorm.Model
	Address           string `gorm:"uniqueIndex"`
	WalletID          string `gorm:"index"`
	PrivacyAddress    string
	Signature         string
	EncryptedMnemonic string
	ScannedChains     string // comma separated chain ids
	SchemaVersion     int
	LastBalanceUpdate *time.Time
}

// SQLiteChallenge represents an auth challenge
type SQLiteChallenge struct {
	gorm.Model
	Challenge string `gorm:"uniqueIndex"`
	Hash      string `gorm:"uniqueIndex"`
	Status    string `gorm:"index"` // unused, used, expired
	Address   string `gorm:"index"`
	UsedAt    *time.Time
	ExpiredAt *time.Time
}
