package sshaudit

import (
	"log"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/pandasdroid/vps-management/internal/database"
	"github.com/pandasdroid/vps-management/internal/logutil"
	"github.com/pandasdroid/vps-management/internal/sshmanager"
)

// EventFingerprintMismatch is recorded in addition to connect_failed when a
// host presents a key that differs from the pinned one.
const EventFingerprintMismatch = "fingerprint_mismatch"

// DefaultRetentionDays is the default number of days to keep audit logs.
const DefaultRetentionDays = 90

const maxDetailsLength = 1000

// Auditor records session events in the audit_logs table.
type Auditor struct {
	mu            sync.RWMutex
	db            *gorm.DB
	retentionDays int
	nowFn         func() time.Time
}

// NewAuditor creates an Auditor writing to db. A retentionDays of 0 or less
// means DefaultRetentionDays.
func NewAuditor(db *gorm.DB, retentionDays int) *Auditor {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Auditor{
		db:            db,
		retentionDays: retentionDays,
		nowFn:         time.Now,
	}
}

// Log stores one event.
func (a *Auditor) Log(hostID, eventType, details string) error {
	record := database.AuditLog{
		HostID:    hostID,
		EventType: eventType,
		Details:   logutil.Truncate(details, maxDetailsLength),
	}
	if err := a.db.Create(&record).Error; err != nil {
		log.Printf("[audit] failed to write audit log: %v", err)
		return err
	}
	log.Printf("[audit] %s host=%s details=%s", eventType, logutil.SanitizeForLog(hostID), logutil.SanitizeForLog(record.Details))
	return nil
}

// EventSource is anything that publishes session events.
type EventSource interface {
	OnEvent(fn sshmanager.EventListener)
}

// audited lists the registry events that are persisted.
var audited = map[sshmanager.EventType]bool{
	sshmanager.EventConnected:         true,
	sshmanager.EventConnectFailed:     true,
	sshmanager.EventDisconnected:      true,
	sshmanager.EventHealthCheckFailed: true,
	sshmanager.EventShellStarted:      true,
	sshmanager.EventShellStopped:      true,
	sshmanager.EventTunnelStarted:     true,
	sshmanager.EventTunnelStopped:     true,
	sshmanager.EventCommand:           true,
	sshmanager.EventFileOperation:     true,
}

// Attach subscribes the auditor to src.
func (a *Auditor) Attach(src EventSource) {
	src.OnEvent(a.record)
}

func (a *Auditor) record(e sshmanager.ConnectionEvent) {
	if !audited[e.Type] {
		return
	}
	a.Log(e.Key, string(e.Type), e.Details)
	if e.Type == sshmanager.EventConnectFailed && strings.Contains(e.Details, sshmanager.ErrHostKeyMismatch.Error()) {
		a.Log(e.Key, EventFingerprintMismatch, e.Details)
	}
}

// QueryOptions filters audit entries.
type QueryOptions struct {
	HostID    string
	EventType string
	Since     *time.Time
	Until     *time.Time
	Limit     int
	Offset    int
}

// QueryResult contains audit log entries and pagination metadata.
type QueryResult struct {
	Entries []database.AuditLog `json:"entries"`
	Total   int64               `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

// Query returns matching entries, newest first.
func (a *Auditor) Query(opts QueryOptions) (*QueryResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	tx := a.db.Model(&database.AuditLog{})
	if opts.HostID != "" {
		tx = tx.Where("host_id = ?", opts.HostID)
	}
	if opts.EventType != "" {
		tx = tx.Where("event_type = ?", opts.EventType)
	}
	if opts.Since != nil {
		tx = tx.Where("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		tx = tx.Where("created_at <= ?", *opts.Until)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, err
	}

	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 1000 {
		opts.Limit = 1000
	}

	var entries []database.AuditLog
	if err := tx.Order("created_at DESC, id DESC").Offset(opts.Offset).Limit(opts.Limit).Find(&entries).Error; err != nil {
		return nil, err
	}
	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}, nil
}

// PurgeOlderThan deletes entries older than days, or than the retention
// period when days is 0 or less. It returns the number deleted.
func (a *Auditor) PurgeOlderThan(days int) (int64, error) {
	if days <= 0 {
		days = a.retentionDays
	}
	cutoff := a.nowFn().AddDate(0, 0, -days)
	result := a.db.Where("created_at < ?", cutoff).Delete(&database.AuditLog{})
	if result.Error != nil {
		log.Printf("[audit] purge failed: %v", result.Error)
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Printf("[audit] purged %d audit log entries older than %d days", result.RowsAffected, days)
	}
	return result.RowsAffected, nil
}

// DeleteHost removes every entry of hostID.
func (a *Auditor) DeleteHost(hostID string) error {
	return a.db.Where("host_id = ?", hostID).Delete(&database.AuditLog{}).Error
}

// RetentionDays returns the configured retention period.
func (a *Auditor) RetentionDays() int {
	return a.retentionDays
}

// SetNowFunc replaces the clock used by PurgeOlderThan.
func (a *Auditor) SetNowFunc(fn func() time.Time) {
	a.nowFn = fn
}
