package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildAuditPath returns the object key for one flushed audit batch,
// partitioned by the UTC date and hour of the flush. instanceID keeps keys
// from concurrent replicas of the same service apart.
func BuildAuditPath(service, instanceID string, flushedAt time.Time, sequence int64) (string, error) {
	if err := validatePathComponent(service, "service name"); err != nil {
		return "", err
	}
	if err := validatePathComponent(instanceID, "instance id"); err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}

	ts := flushedAt.UTC()
	return path.Join(
		"audit",
		service,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("hour=%02d", ts.Hour()),
		fmt.Sprintf("batch-%d-%s-%05d.parquet", ts.UnixMilli(), instanceID, sequence),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
