package revocation

import "time"

const unknownField = "UNKNOWN"

// Session is the device metadata stored next to a refresh entry.
type Session struct {
	UserID       string
	TokenID      string
	DeviceType   string
	Browser      string
	OS           string
	IPAddress    string
	Location     string
	LastActivity time.Time
}

func (s Session) fields() map[string]interface{} {
	return map[string]interface{}{
		"deviceType":   orUnknown(s.DeviceType),
		"browser":      orUnknown(s.Browser),
		"os":           orUnknown(s.OS),
		"ipAddress":    s.IPAddress,
		"location":     s.Location,
		"lastActivity": s.LastActivity.UTC().Format(time.RFC3339),
	}
}

func sessionFromHash(userID, tokenID string, h map[string]string) Session {
	sess := Session{
		UserID:     userID,
		TokenID:    tokenID,
		DeviceType: h["deviceType"],
		Browser:    h["browser"],
		OS:         h["os"],
		IPAddress:  h["ipAddress"],
		Location:   h["location"],
	}
	if ts, err := time.Parse(time.RFC3339, h["lastActivity"]); err == nil {
		sess.LastActivity = ts
	}
	return sess
}

func orUnknown(v string) string {
	if v == "" {
		return unknownField
	}
	return v
}
