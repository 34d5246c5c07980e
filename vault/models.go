// Package vault holds the cipher domain: encrypted CipherRecords as they
// travel and rest, plaintext CipherViews as consumers see them, the
// decryption pipeline between the two and the local encrypted cache.
package vault

import (
	"time"

	"github.com/jmcleod/ironkeep/crypto"
)

// CipherType is the kind of item a cipher holds.
type CipherType int

const (
	TypeLogin      CipherType = 1
	TypeSecureNote CipherType = 2
	TypeCard       CipherType = 3
	TypeIdentity   CipherType = 4
)

func (t CipherType) String() string {
	switch t {
	case TypeLogin:
		return "login"
	case TypeSecureNote:
		return "secure_note"
	case TypeCard:
		return "card"
	case TypeIdentity:
		return "identity"
	default:
		return "unknown"
	}
}

// FieldType is the kind of a custom field.
type FieldType int

const (
	FieldText    FieldType = 0
	FieldHidden  FieldType = 1
	FieldBoolean FieldType = 2
	FieldLinked  FieldType = 3
)

// CipherRecord is a vault item in wire and cache form. Every user-visible
// string is an EncString.
type CipherRecord struct {
	ID             string           `json:"id" msgpack:"id"`
	OrganizationID string           `json:"organizationId,omitzero" msgpack:"org_id,omitempty"`
	FolderID       string           `json:"folderId,omitzero" msgpack:"folder_id,omitempty"`
	CollectionIDs  []string         `json:"collectionIds,omitzero" msgpack:"collection_ids,omitempty"`
	Type           CipherType       `json:"type" msgpack:"type"`
	RevisionDate   time.Time        `json:"revisionDate" msgpack:"revision_date"`
	DeletedDate    time.Time        `json:"deletedDate,omitzero" msgpack:"deleted_date,omitempty"`
	Favorite       bool             `json:"favorite,omitzero" msgpack:"favorite,omitempty"`
	Reprompt       int              `json:"reprompt,omitzero" msgpack:"reprompt,omitempty"`
	Key            crypto.EncString `json:"key,omitzero" msgpack:"key"`
	Name           crypto.EncString `json:"name" msgpack:"name"`
	Notes          crypto.EncString `json:"notes,omitzero" msgpack:"notes"`
	Login          *LoginRecord     `json:"login,omitzero" msgpack:"login,omitempty"`
	Card           *CardRecord      `json:"card,omitzero" msgpack:"card,omitempty"`
	Identity       *IdentityRecord  `json:"identity,omitzero" msgpack:"identity,omitempty"`
	SecureNote     *SecureNote      `json:"secureNote,omitzero" msgpack:"secure_note,omitempty"`
	Fields         []FieldRecord    `json:"fields,omitzero" msgpack:"fields,omitempty"`
}

// Deleted reports whether the cipher is in the trash.
func (r *CipherRecord) Deleted() bool {
	return !r.DeletedDate.IsZero()
}

type LoginRecord struct {
	Username crypto.EncString `json:"username,omitzero" msgpack:"username"`
	Password crypto.EncString `json:"password,omitzero" msgpack:"password"`
	TOTP     crypto.EncString `json:"totp,omitzero" msgpack:"totp"`
	URIs     []URIRecord      `json:"uris,omitzero" msgpack:"uris,omitempty"`
}

type URIRecord struct {
	URI   crypto.EncString `json:"uri" msgpack:"uri"`
	Match *int             `json:"match,omitzero" msgpack:"match,omitempty"`
}

type CardRecord struct {
	CardholderName crypto.EncString `json:"cardholderName,omitzero" msgpack:"cardholder_name"`
	Brand          crypto.EncString `json:"brand,omitzero" msgpack:"brand"`
	Number         crypto.EncString `json:"number,omitzero" msgpack:"number"`
	ExpMonth       crypto.EncString `json:"expMonth,omitzero" msgpack:"exp_month"`
	ExpYear        crypto.EncString `json:"expYear,omitzero" msgpack:"exp_year"`
	Code           crypto.EncString `json:"code,omitzero" msgpack:"code"`
}

type IdentityRecord struct {
	Title          crypto.EncString `json:"title,omitzero" msgpack:"title"`
	FirstName      crypto.EncString `json:"firstName,omitzero" msgpack:"first_name"`
	MiddleName     crypto.EncString `json:"middleName,omitzero" msgpack:"middle_name"`
	LastName       crypto.EncString `json:"lastName,omitzero" msgpack:"last_name"`
	Address1       crypto.EncString `json:"address1,omitzero" msgpack:"address1"`
	Address2       crypto.EncString `json:"address2,omitzero" msgpack:"address2"`
	City           crypto.EncString `json:"city,omitzero" msgpack:"city"`
	State          crypto.EncString `json:"state,omitzero" msgpack:"state"`
	PostalCode     crypto.EncString `json:"postalCode,omitzero" msgpack:"postal_code"`
	Country        crypto.EncString `json:"country,omitzero" msgpack:"country"`
	Company        crypto.EncString `json:"company,omitzero" msgpack:"company"`
	Email          crypto.EncString `json:"email,omitzero" msgpack:"email"`
	Phone          crypto.EncString `json:"phone,omitzero" msgpack:"phone"`
	SSN            crypto.EncString `json:"ssn,omitzero" msgpack:"ssn"`
	Username       crypto.EncString `json:"username,omitzero" msgpack:"username"`
	PassportNumber crypto.EncString `json:"passportNumber,omitzero" msgpack:"passport_number"`
	LicenseNumber  crypto.EncString `json:"licenseNumber,omitzero" msgpack:"license_number"`
}

type SecureNote struct {
	Type int `json:"type" msgpack:"type"`
}

type FieldRecord struct {
	Type  FieldType        `json:"type" msgpack:"type"`
	Name  crypto.EncString `json:"name,omitzero" msgpack:"name"`
	Value crypto.EncString `json:"value,omitzero" msgpack:"value"`
}

// CipherView is the decrypted form of a CipherRecord. Views only exist in
// memory and are never persisted.
type CipherView struct {
	ID             string
	OrganizationID string
	FolderID       string
	CollectionIDs  []string
	Type           CipherType
	RevisionDate   time.Time
	DeletedDate    time.Time
	Favorite       bool
	Reprompt       int
	// Key is the wrapped item key carried through unchanged.
	Key        crypto.EncString
	Name       string
	Notes      string
	Login      *LoginView
	Card       *CardView
	Identity   *IdentityView
	SecureNote *SecureNote
	Fields     []FieldView
}

type LoginView struct {
	Username string
	Password string
	TOTP     string
	URIs     []URIView
}

type URIView struct {
	URI   string
	Match *int
}

type CardView struct {
	CardholderName string
	Brand          string
	Number         string
	ExpMonth       string
	ExpYear        string
	Code           string
}

type IdentityView struct {
	Title          string
	FirstName      string
	MiddleName     string
	LastName       string
	Address1       string
	Address2       string
	City           string
	State          string
	PostalCode     string
	Country        string
	Company        string
	Email          string
	Phone          string
	SSN            string
	Username       string
	PassportNumber string
	LicenseNumber  string
}

type FieldView struct {
	Type  FieldType
	Name  string
	Value string
}

// Validation constants.
const (
	MaxIDLength   = 256
	MaxFieldCount = 64
	MaxURICount   = 64
)

// Record types for storage.
const (
	recordTypeCipher = "CIPHER"
)
