package pingone

import (
	"fmt"
	"strings"

	"github.com/pingone-bulk-users/internal/apperrors"
)

var regionDomains = map[string]string{
	"NA":     "com",
	"COM":    "com",
	"EU":     "eu",
	"CA":     "ca",
	"AP":     "asia",
	"ASIA":   "asia",
	"AU":     "com.au",
	"COM.AU": "com.au",
}

// Domain maps a configured region code to the PingOne top-level domain.
// An empty region is an error: neither PINGONE_REGION nor the settings file named one.
func Domain(region string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(region))
	if code == "" {
		return "", &apperrors.Error{
			Kind:    apperrors.KindInvalidRegion,
			Message: "No PingOne region is configured. Set PINGONE_REGION or the region setting to one of NA, EU, CA, AP or AU.",
		}
	}
	domain, ok := regionDomains[code]
	if !ok {
		return "", &apperrors.Error{
			Kind:    apperrors.KindInvalidRegion,
			Message: fmt.Sprintf("Unknown PingOne region %q. Use one of NA, EU, CA, AP or AU.", region),
		}
	}
	return domain, nil
}

// APIBaseURL returns the management API base URL for a region
func APIBaseURL(region string) (string, error) {
	domain, err := Domain(region)
	if err != nil {
		return "", err
	}
	return "https://api.pingone." + domain + "/v1", nil
}

// TokenURL returns the client-credentials token endpoint of an environment
func TokenURL(region, environmentID string) (string, error) {
	domain, err := Domain(region)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://auth.pingone.%s/%s/as/token", domain, environmentID), nil
}
