package internal

import "strings"

// Device is the coarse client description stored with a session.
type Device struct {
	Type    string
	Browser string
	OS      string
}

const unknown = "Unknown"

// ParseUserAgent classifies a User-Agent header by substring matching.
// An empty header yields Unknown for every field.
func ParseUserAgent(userAgent string) Device {
	if userAgent == "" {
		return Device{Type: unknown, Browser: unknown, OS: unknown}
	}
	ua := strings.ToLower(userAgent)
	return Device{
		Type:    deviceType(ua),
		Browser: browser(ua),
		OS:      operatingSystem(ua),
	}
}

func deviceType(ua string) string {
	switch {
	case strings.Contains(ua, "tablet"), strings.Contains(ua, "ipad"):
		return "Tablet"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"), strings.Contains(ua, "iphone"):
		return "Mobile"
	default:
		return "Desktop"
	}
}

func browser(ua string) string {
	switch {
	case strings.Contains(ua, "edg"):
		return "Edge"
	case strings.Contains(ua, "opr"), strings.Contains(ua, "opera"):
		return "Opera"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	default:
		return unknown
	}
}

// iOS and Android user agents also mention "Mac OS X" and "Linux", so the
// mobile platforms are matched first.
func operatingSystem(ua string) string {
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac os"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return unknown
	}
}
