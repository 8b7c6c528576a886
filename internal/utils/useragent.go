package utils

import (
	"strings"

	ua "github.com/mssola/user_agent"
)

// DeviceInfo holds parsed information from a User-Agent string
type DeviceInfo struct {
	DeviceType string `json:"device_type"` // mobile, tablet, desktop
	OS         string `json:"os"`          // Android 12, iOS 15, Windows 10, etc.
	Browser    string `json:"browser"`     // Chrome, Safari, Firefox, etc.
	IsBot      bool   `json:"is_bot"`
	Platform   string `json:"platform"` // android, ios, windows, mac, linux
}

var tabletIndicators = []string{"ipad", "tablet", "kindle", "playbook", "nexus 7", "nexus 9", "nexus 10", "xoom", "sm-t"}

// ParseUserAgent parses a User-Agent string and extracts device information
func ParseUserAgent(userAgent string) DeviceInfo {
	if userAgent == "" || userAgent == "Unknown" {
		return DeviceInfo{
			DeviceType: "unknown",
			OS:         "Unknown",
			Browser:    "Unknown",
			Platform:   "unknown",
		}
	}

	parser := ua.New(userAgent)

	info := DeviceInfo{
		DeviceType: "desktop",
		OS:         "Unknown",
		Browser:    "Unknown",
		IsBot:      parser.Bot(),
		Platform:   "unknown",
	}

	if parser.Mobile() {
		info.DeviceType = "mobile"
		lower := strings.ToLower(userAgent)
		for _, indicator := range tabletIndicators {
			if strings.Contains(lower, indicator) {
				info.DeviceType = "tablet"
				break
			}
		}
	}

	osInfo := parser.OSInfo()
	if osInfo.Name != "" {
		info.OS = strings.TrimSpace(osInfo.Name + " " + osInfo.Version)
		info.Platform = platformFor(osInfo.Name)
	}

	if name, _ := parser.Browser(); name != "" {
		info.Browser = name
	}

	return info
}

// platformFor maps an OS name onto a platform family
func platformFor(osName string) string {
	name := strings.ToLower(osName)
	switch {
	case strings.Contains(name, "android"):
		return "android"
	case strings.Contains(name, "ios"), strings.Contains(name, "iphone os"):
		return "ios"
	case strings.Contains(name, "windows"):
		return "windows"
	case strings.Contains(name, "mac os x"), strings.Contains(name, "macos"):
		return "mac"
	case strings.Contains(name, "chrome os"):
		return "chromeos"
	case strings.Contains(name, "linux"), strings.Contains(name, "ubuntu"):
		return "linux"
	}
	return "unknown"
}
