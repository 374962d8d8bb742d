package models

import (
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// DeviceClass is the coarse device family shown next to a peer.
type DeviceClass string

const (
	DeviceClassIOS     DeviceClass = "ios"
	DeviceClassAndroid DeviceClass = "android"
	DeviceClassMac     DeviceClass = "mac"
	DeviceClassWindows DeviceClass = "windows"
	DeviceClassLinux   DeviceClass = "linux"
)

// Validate reports whether the class is one of the known values.
func (c DeviceClass) Validate() error {
	switch c {
	case DeviceClassIOS, DeviceClassAndroid, DeviceClassMac, DeviceClassWindows, DeviceClassLinux:
		return nil
	default:
		return fmt.Errorf("%w: device type %q", ErrInvalid, string(c))
	}
}

// IsMobile reports whether the class is a phone/tablet family.
func (c DeviceClass) IsMobile() bool {
	return c == DeviceClassIOS || c == DeviceClassAndroid
}

// DefaultDeviceName is the name a device carries until the user picks one.
func (c DeviceClass) DefaultDeviceName() string {
	return strings.ToUpper(string(c)) + " User"
}

// Checked in order; the first match wins.
var platformPatterns = []struct {
	pattern *regexp.Regexp
	class   DeviceClass
}{
	{regexp.MustCompile(`(?i)iPhone|iPad|iPod`), DeviceClassIOS},
	{regexp.MustCompile(`(?i)Android`), DeviceClassAndroid},
	{regexp.MustCompile(`(?i)Mac`), DeviceClassMac},
	{regexp.MustCompile(`(?i)Win`), DeviceClassWindows},
}

// ClassifyPlatform maps a user-agent or platform string to a device class.
// Unknown platforms are reported as linux.
func ClassifyPlatform(platform string) DeviceClass {
	for _, p := range platformPatterns {
		if p.pattern.MatchString(platform) {
			return p.class
		}
	}
	return DeviceClassLinux
}

// HostPlatform returns a platform string describing the running process.
func HostPlatform() string {
	switch runtime.GOOS {
	case "ios":
		return "iPhone"
	case "android":
		return "Android"
	case "darwin":
		return "Macintosh"
	case "windows":
		return "Windows"
	default:
		return "Linux " + runtime.GOARCH
	}
}
