package vault

import (
	"unicode"
	"unicode/utf8"

	"github.com/jmcleod/ironkeep/internal/uuid"
)

func validateID(id, label string) error {
	if id == "" {
		return validationErrorf("%s must not be empty", label)
	}
	if len(id) > MaxIDLength {
		return validationErrorf("%s exceeds maximum length of %d", label, MaxIDLength)
	}
	if !utf8.ValidString(id) {
		return validationErrorf("%s contains invalid UTF-8", label)
	}
	for _, r := range id {
		if r == ':' || r == '/' {
			return validationErrorf("%s contains forbidden character %q", label, r)
		}
		if unicode.IsControl(r) {
			return validationErrorf("%s contains control character", label)
		}
	}
	return nil
}

func validateType(t CipherType) error {
	switch t {
	case TypeLogin, TypeSecureNote, TypeCard, TypeIdentity:
		return nil
	default:
		return validationErrorf("invalid cipher type %d", t)
	}
}

// ValidateRecord checks the structural invariants of a record before it is
// cached or sent.
func ValidateRecord(r *CipherRecord) error {
	if r == nil {
		return validationErrorf("record must not be nil")
	}
	if err := validateID(r.ID, "cipher ID"); err != nil {
		return err
	}
	if r.OrganizationID != "" {
		if err := validateID(r.OrganizationID, "organization ID"); err != nil {
			return err
		}
	}
	if err := validateType(r.Type); err != nil {
		return err
	}
	if r.Name.IsZero() {
		return validationErrorf("cipher %s has no name", r.ID)
	}
	if len(r.Fields) > MaxFieldCount {
		return validationErrorf("field count %d exceeds maximum of %d", len(r.Fields), MaxFieldCount)
	}
	if r.Login != nil && len(r.Login.URIs) > MaxURICount {
		return validationErrorf("uri count %d exceeds maximum of %d", len(r.Login.URIs), MaxURICount)
	}
	return nil
}

// ValidateView checks a view before encryption. New views may carry a
// temporary id.
func ValidateView(v *CipherView) error {
	if v == nil {
		return validationErrorf("view must not be nil")
	}
	if v.ID != "" && !uuid.IsTemp(v.ID) {
		if err := validateID(v.ID, "cipher ID"); err != nil {
			return err
		}
	}
	if err := validateType(v.Type); err != nil {
		return err
	}
	if v.Name == "" {
		return validationErrorf("name must not be empty")
	}
	if len(v.Fields) > MaxFieldCount {
		return validationErrorf("field count %d exceeds maximum of %d", len(v.Fields), MaxFieldCount)
	}
	return nil
}
