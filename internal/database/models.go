package database

import "time"

// Host is a stored connection profile. Secret columns hold fernet tokens,
// never plaintext.
type Host struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	Name               string    `gorm:"not null;default:''" json:"name"`
	Address            string    `gorm:"not null" json:"address"`
	Port               int       `gorm:"not null;default:22" json:"port"`
	Username           string    `gorm:"not null;default:root" json:"username"`
	AuthMode           string    `gorm:"not null;default:password" json:"auth_mode"`
	Password           string    `json:"-"`
	PrivateKey         string    `gorm:"type:text" json:"-"`
	Passphrase         string    `json:"-"`
	HostKeyFingerprint string    `json:"host_key_fingerprint"`
	SortOrder          int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// AuditLog is one recorded session event for a host.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	HostID    string    `gorm:"index;size:36" json:"host_id"`
	EventType string    `gorm:"index;not null" json:"event_type"`
	Details   string    `gorm:"type:text" json:"details"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
