package pipeline

import (
	"fmt"
	"strings"

	"github.com/cofers/txguard/internal/domain"
)

// ParsePartitions extracts the batch coordinates from an object path whose
// segments encode key=value partitions, e.g.
// "year=2024/month=11/day=20/company_id=c-1/batch-000.avro".
func ParsePartitions(objectPath string) (domain.Partitions, error) {
	values := map[string]string{}
	for _, segment := range strings.Split(objectPath, "/") {
		key, value, found := strings.Cut(segment, "=")
		if !found {
			continue
		}
		values[key] = value
	}

	parts := domain.Partitions{
		Year:      values["year"],
		Month:     values["month"],
		Day:       values["day"],
		CompanyID: values["company_id"],
	}
	for key, v := range map[string]string{
		"year": parts.Year, "month": parts.Month, "day": parts.Day, "company_id": parts.CompanyID,
	} {
		if v == "" {
			return domain.Partitions{}, fmt.Errorf("object path %q is missing partition %q", objectPath, key)
		}
	}
	return parts, nil
}
