package storage

import (
	"fmt"
	"strings"
)

// ReturnLabelPath returns the object key a return label is stored under.
func ReturnLabelPath(orderID, returnID string) (string, error) {
	order, err := validateSegment("orderID", orderID)
	if err != nil {
		return "", err
	}
	ret, err := validateSegment("returnID", returnID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("returns/%s/%s/label.txt", order, ret), nil
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
