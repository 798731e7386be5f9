package capture

import (
	"context"
	"log/slog"
	"time"
)

// DeviceCounter reports how many audio inputs the platform currently lists.
type DeviceCounter func() int

// Watch polls count every interval and reports a denied permission to m when
// the last audio input disappears. It is the desktop counterpart of a browser
// permission-change event and returns when ctx is done.
func Watch(ctx context.Context, m *Manager, count DeviceCounter, interval time.Duration) {
	log := slog.With("component", "capture-watch")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := count()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n := count()
		if prev > 0 && n == 0 {
			log.Warn("audio input disappeared")
			m.HandlePermissionChange(PermissionDenied)
		} else if prev == 0 && n > 0 {
			log.Info("audio input available", "devices", n)
			m.HandlePermissionChange(PermissionUnknown)
		}
		prev = n
	}
}
