package clockauth

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"
)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	return nil
}

// validatePassword checks the candidate against the configured policy and
// reports every missing requirement in one error.
func validatePassword(policy PasswordPolicyConfig, candidate string) error {
	var missing []string

	if len(candidate) < policy.MinLength {
		missing = append(missing, fmt.Sprintf("at least %d characters", policy.MinLength))
	}

	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if policy.RequireUppercase && !hasUpper {
		missing = append(missing, "an uppercase letter")
	}
	if policy.RequireLowercase && !hasLower {
		missing = append(missing, "a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		missing = append(missing, "a digit")
	}
	if policy.RequireSymbol && !hasSymbol {
		missing = append(missing, "a symbol")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: password needs %s", ErrPasswordPolicy, strings.Join(missing, ", "))
	}
	return nil
}

func isNumericString(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
