// Package systemd integrates "rawsock capture --follow" with systemd.
//
// When the capture runs as a Type=notify unit it reports READY=1 once the
// brokered socket is bound, STOPPING=1 on shutdown, and pings the watchdog
// while frames are still being read. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// NotifyReady sends sd_notify READY=1 to systemd.
// Returns true if notification was sent, false if systemd is not available.
func NotifyReady() bool {
	return notify(daemon.SdNotifyReady, "ready")
}

// NotifyStopping sends sd_notify STOPPING=1 to systemd.
// Returns true if notification was sent, false if systemd is not available.
func NotifyStopping() bool {
	return notify(daemon.SdNotifyStopping, "stopping")
}

// NotifyStatus sends a free-form STATUS= line, shown by systemctl status.
func NotifyStatus(status string) bool {
	return notify("STATUS="+status, "status")
}

func notify(state, name string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		slog.Warn("failed to send systemd notification", "state", name, "error", err)
		return false
	}
	if sent {
		slog.Debug("sent systemd notification", "state", name)
	}
	return sent
}

// HealthCheckFunc reports whether the capture loop is still making progress.
type HealthCheckFunc func() bool

// StartWatchdog starts a goroutine that pings the systemd watchdog every
// half WatchdogSec while healthCheck returns true. It returns false when the
// watchdog is not enabled for this process.
//
// The goroutine exits when the context is cancelled.
func StartWatchdog(ctx context.Context, healthCheck HealthCheckFunc) bool {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		slog.Debug("watchdog not enabled", "error", err)
		return false
	}
	if interval == 0 {
		return false
	}

	pingInterval := interval / 2
	slog.Info("starting systemd watchdog",
		"watchdog_interval", interval,
		"ping_interval", pingInterval,
	)

	go watchdogLoop(ctx, pingInterval, healthCheck)
	return true
}

func watchdogLoop(ctx context.Context, interval time.Duration, healthCheck HealthCheckFunc) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !healthCheck() {
				slog.Warn("capture stalled, skipping watchdog ping")
				continue
			}
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				slog.Warn("failed to send watchdog ping", "error", err)
			}
		}
	}
}

// IsRunningUnderSystemd returns true if the process was started by systemd
// with a notification socket.
func IsRunningUnderSystemd() bool {
	return os.Getenv("NOTIFY_SOCKET") != ""
}
