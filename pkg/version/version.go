package version

import (
	"strconv"
	"time"
)

// Set at link time with -ldflags "-X github.com/nais/deploywatch/pkg/version.version=...".
var (
	version   = "unknown"
	buildTime = "0"
)

func Version() string {
	return version
}

// BuildTime returns the build timestamp, given in UNIX epoch seconds at link time.
func BuildTime() (time.Time, error) {
	epoch, err := strconv.ParseInt(buildTime, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(epoch, 0), nil
}
