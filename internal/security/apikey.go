package security

import (
	"strings"

	"github.com/google/uuid"
)

// APIKeyPrefix marks keys issued by this service.
const APIKeyPrefix = "ak-"

// GenerateAPIKey returns a new proxy access key.
func GenerateAPIKey() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return APIKeyPrefix + strings.ReplaceAll(id.String(), "-", ""), nil
}
