package api

import (
	"regexp"

	"github.com/nisargdongare/ProfitPulse/internal/domain"
)

// Field checks mirror the dashboard forms: errors are keyed by field
// name and surfaced inline.
var (
	emailRe  = regexp.MustCompile(`^\S+@\S+\.\S+$`)
	mobileRe = regexp.MustCompile(`^[0-9]{10}$`)
)

const minPasswordLen = 8

func validateLogin(email, password string) map[string]string {
	errs := map[string]string{}
	if email == "" {
		errs["EMAIL"] = "Email is required"
	} else if !emailRe.MatchString(email) {
		errs["EMAIL"] = "Email is invalid"
	}
	if password == "" {
		errs["PASSWORD"] = "Password is required"
	} else if len(password) < minPasswordLen {
		errs["PASSWORD"] = "Password must be at least 8 characters"
	}
	return errs
}

func validateSignup(req *signupRequest) map[string]string {
	errs := map[string]string{}
	if req.FirstName == "" {
		errs["FIRST_NAME"] = "First name is required"
	}
	if req.LastName == "" {
		errs["LAST_NAME"] = "Last name is required"
	}
	if req.Email == "" {
		errs["EMAIL"] = "Email is required"
	} else if !emailRe.MatchString(req.Email) {
		errs["EMAIL"] = "Email is invalid"
	}
	if req.Mobile == "" {
		errs["MOBILE"] = "Phone number is required"
	} else if !mobileRe.MatchString(req.Mobile) {
		errs["MOBILE"] = "Phone number must be 10 digits"
	}
	if req.Password == "" {
		errs["PASSWORD"] = "Password is required"
	} else if len(req.Password) < minPasswordLen {
		errs["PASSWORD"] = "Password must be at least 8 characters"
	}
	if req.Role == "" {
		errs["ROLE"] = "Role is required"
	}
	return errs
}

func validateLinkOpen(creds *domain.BrokerCredentials) map[string]string {
	errs := map[string]string{}
	if creds.APIKey == "" {
		errs["api_key"] = "API Key is required"
	}
	if creds.APISecret == "" {
		errs["api_secret"] = "API Secret is required"
	}
	return errs
}
