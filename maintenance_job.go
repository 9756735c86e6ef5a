package main

import (
	"log"

	"github.com/robfig/cron/v3"

	"github.com/pandasdroid/vps-management/internal/sshaudit"
)

// auditPurgeSchedule runs the retention purge once a day.
const auditPurgeSchedule = "@daily"

// startMaintenanceJobs schedules background housekeeping and runs the audit
// purge once immediately.
func startMaintenanceJobs(auditor *sshaudit.Auditor) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log.Default()))))
	if _, err := c.AddFunc(auditPurgeSchedule, func() { purgeAuditLogs(auditor) }); err != nil {
		return nil, err
	}
	purgeAuditLogs(auditor)
	c.Start()
	return c, nil
}

// purgeAuditLogs deletes audit entries past the retention period.
func purgeAuditLogs(auditor *sshaudit.Auditor) int64 {
	if auditor == nil {
		return 0
	}
	n, err := auditor.PurgeOlderThan(0)
	if err != nil {
		return 0
	}
	return n
}
