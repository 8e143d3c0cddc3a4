package apperrors

import (
	"fmt"
	"net/http"
	"strings"
)

// Area is the semantic area a remote call belongs to; it selects the friendly message
type Area string

const (
	AreaToken      Area = "token"
	AreaImport     Area = "import"
	AreaUser       Area = "user"
	AreaPopulation Area = "population"
	AreaGeneric    Area = "generic"
)

// AreaForPath derives the semantic area of a PingOne API path
func AreaForPath(method, path string) Area {
	p := strings.ToLower(path)
	switch {
	case strings.Contains(p, "/as/token"):
		return AreaToken
	case strings.Contains(p, "/populations"):
		return AreaPopulation
	case strings.Contains(p, "/users") && method == http.MethodPost && strings.HasSuffix(strings.TrimRight(p, "/"), "/users"):
		return AreaImport
	case strings.Contains(p, "/users"):
		return AreaUser
	}
	return AreaGeneric
}

// FriendlyMessage returns the human-readable message for a remote status in an area
func FriendlyMessage(status int, area Area) string {
	switch area {
	case AreaToken:
		switch {
		case status == http.StatusBadRequest:
			return "The environment ID appears to be malformed. Check the environment ID in your settings."
		case status == http.StatusUnauthorized:
			return "Authentication failed: the client ID or client secret is incorrect."
		case status == http.StatusForbidden:
			return "The worker application does not have permission to request tokens. Check its roles in PingOne."
		case status == http.StatusNotFound:
			return "The environment was not found. Check the environment ID and region in your settings."
		case status == http.StatusTooManyRequests:
			return "Too many token requests. Please wait a moment and try again."
		case status >= 500:
			return "The PingOne authentication service is currently unavailable. Please try again later."
		}
	case AreaImport:
		switch {
		case status == http.StatusBadRequest:
			return "The user data was rejected by PingOne. Check the CSV for invalid or missing fields."
		case status == http.StatusForbidden:
			return "The worker application is not allowed to create users in this environment."
		case status == http.StatusNotFound:
			return "The target population or environment was not found."
		case status == http.StatusConflict:
			return "A user with the same username or email already exists."
		}
	case AreaUser:
		switch {
		case status == http.StatusBadRequest:
			return "The user update was rejected by PingOne. Check the values being modified."
		case status == http.StatusForbidden:
			return "The worker application is not allowed to modify users in this environment."
		case status == http.StatusNotFound:
			return "The user was not found in the environment."
		case status == http.StatusConflict:
			return "The update would create a duplicate username or email."
		}
	case AreaPopulation:
		switch {
		case status == http.StatusForbidden:
			return "The worker application is not allowed to read populations in this environment."
		case status == http.StatusNotFound:
			return "The population was not found in the environment."
		}
	}
	return genericMessage(status)
}

func genericMessage(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "The request to PingOne was invalid."
	case status == http.StatusUnauthorized:
		return "Authentication with PingOne failed. Check your API credentials."
	case status == http.StatusForbidden:
		return "Access denied. The worker application lacks the required permissions."
	case status == http.StatusNotFound:
		return "The requested PingOne resource was not found."
	case status == http.StatusConflict:
		return "The resource already exists."
	case status == http.StatusTooManyRequests:
		return "PingOne rate limit exceeded. Please wait and try again."
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return "The request to PingOne timed out."
	case status >= 500:
		return "PingOne is currently experiencing issues. Please try again later."
	}
	return fmt.Sprintf("Unexpected response from PingOne (status %d).", status)
}
