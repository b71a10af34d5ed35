// Package hostinfo gathers the host facts that matter when choosing a boot
// target: the running OS and kernel, when the machine last booted, and
// whether it was booted through UEFI firmware.
package hostinfo

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// efiDir exists only on machines booted through UEFI.
var efiDir = "/sys/firmware/efi"

// Info holds the collected host facts.
type Info struct {
	Platform        string
	PlatformVersion string
	KernelVersion   string
	BootTime        time.Time
	UEFI            bool
}

// Collect queries the host. gopsutil failures are returned; the UEFI check
// never fails.
func Collect(ctx context.Context) (Info, error) {
	info := Info{UEFI: isUEFI()}

	stat, err := host.InfoWithContext(ctx)
	if err != nil {
		return info, err
	}
	info.Platform = stat.Platform
	info.PlatformVersion = stat.PlatformVersion
	info.KernelVersion = stat.KernelVersion
	info.BootTime = time.Unix(int64(stat.BootTime), 0).UTC()
	return info, nil
}

// Fields renders the info as log fields.
func (i Info) Fields() []zap.Field {
	return []zap.Field{
		zap.String("platform", i.Platform),
		zap.String("platform_version", i.PlatformVersion),
		zap.String("kernel", i.KernelVersion),
		zap.Time("boot_time", i.BootTime),
		zap.Bool("uefi", i.UEFI),
	}
}

func isUEFI() bool {
	_, err := os.Stat(efiDir)
	return err == nil
}
