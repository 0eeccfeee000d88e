package storage

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// ExportObjectName builds `{prefix}/YYYY/MM/DD/{id}.{ext}` using the UTC date of at.
func ExportObjectName(prefix string, at time.Time, id, ext string) (string, error) {
	id, err := validateSegment("id", id)
	if err != nil {
		return "", err
	}
	ext, err = validateSegment("ext", strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if err != nil {
		return "", err
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if strings.Contains(prefix, "..") {
		return "", fmt.Errorf("storage: prefix contains invalid traversal sequence")
	}
	at = at.UTC()
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), id+"."+ext), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
