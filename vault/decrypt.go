package vault

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/util"
)

// DecryptOne turns one record into a view with the default crypto service.
// The item key, when present, is unwrapped with key first and then used for
// every field. Any failing field fails the whole record.
func DecryptOne(rec *CipherRecord, key *crypto.SymmetricKey) (*CipherView, error) {
	return decryptRecord(crypto.Default(), rec, key)
}

// EncryptView turns a view into a record with the default crypto service.
func EncryptView(view *CipherView, key *crypto.SymmetricKey) (*CipherRecord, error) {
	return encryptView(crypto.Default(), view, key)
}

// itemKey returns the key fields are encrypted under, and whether the caller
// owns it and must wipe it.
func itemKey(svc *crypto.Service, wrapped crypto.EncString, key *crypto.SymmetricKey) (*crypto.SymmetricKey, bool, error) {
	if wrapped.IsZero() {
		return key, false, nil
	}
	raw, err := svc.DecryptEncString(wrapped, key)
	if err != nil {
		return nil, false, err
	}
	defer util.WipeBytes(raw)
	k, err := crypto.NewSymmetricKey(raw)
	if err != nil {
		return nil, false, err
	}
	return k, true, nil
}

var errInvalidUTF8 = errors.New("invalid UTF-8")

type fieldDecrypter struct {
	svc *crypto.Service
	key *crypto.SymmetricKey
	id  string
	err error
}

func (d *fieldDecrypter) str(field string, es crypto.EncString) string {
	if d.err != nil || es.IsZero() {
		return ""
	}
	pt, err := d.svc.DecryptEncString(es, d.key)
	if err != nil {
		d.err = &DecryptError{Kind: FieldFailed, CipherID: d.id, Field: field, Err: err}
		return ""
	}
	if !utf8.Valid(pt) {
		d.err = &DecryptError{Kind: FieldFailed, CipherID: d.id, Field: field, Err: errInvalidUTF8}
		return ""
	}
	return string(pt)
}

func decryptRecord(svc *crypto.Service, rec *CipherRecord, key *crypto.SymmetricKey) (*CipherView, error) {
	if key == nil {
		return nil, &DecryptError{Kind: KeyUnavailable, CipherID: rec.ID}
	}
	k, owned, err := itemKey(svc, rec.Key, key)
	if err != nil {
		return nil, &DecryptError{Kind: FieldFailed, CipherID: rec.ID, Field: "key", Err: err}
	}
	if owned {
		defer k.Wipe()
	}

	d := &fieldDecrypter{svc: svc, key: k, id: rec.ID}
	v := &CipherView{
		ID:             rec.ID,
		OrganizationID: rec.OrganizationID,
		FolderID:       rec.FolderID,
		CollectionIDs:  append([]string(nil), rec.CollectionIDs...),
		Type:           rec.Type,
		RevisionDate:   rec.RevisionDate,
		DeletedDate:    rec.DeletedDate,
		Favorite:       rec.Favorite,
		Reprompt:       rec.Reprompt,
		Key:            rec.Key,
		Name:           d.str("name", rec.Name),
		Notes:          d.str("notes", rec.Notes),
	}
	if l := rec.Login; l != nil {
		v.Login = &LoginView{
			Username: d.str("login.username", l.Username),
			Password: d.str("login.password", l.Password),
			TOTP:     d.str("login.totp", l.TOTP),
		}
		for i, u := range l.URIs {
			v.Login.URIs = append(v.Login.URIs, URIView{
				URI:   d.str(fmt.Sprintf("login.uris[%d]", i), u.URI),
				Match: u.Match,
			})
		}
	}
	if c := rec.Card; c != nil {
		v.Card = &CardView{
			CardholderName: d.str("card.cardholderName", c.CardholderName),
			Brand:          d.str("card.brand", c.Brand),
			Number:         d.str("card.number", c.Number),
			ExpMonth:       d.str("card.expMonth", c.ExpMonth),
			ExpYear:        d.str("card.expYear", c.ExpYear),
			Code:           d.str("card.code", c.Code),
		}
	}
	if id := rec.Identity; id != nil {
		v.Identity = &IdentityView{
			Title:          d.str("identity.title", id.Title),
			FirstName:      d.str("identity.firstName", id.FirstName),
			MiddleName:     d.str("identity.middleName", id.MiddleName),
			LastName:       d.str("identity.lastName", id.LastName),
			Address1:       d.str("identity.address1", id.Address1),
			Address2:       d.str("identity.address2", id.Address2),
			City:           d.str("identity.city", id.City),
			State:          d.str("identity.state", id.State),
			PostalCode:     d.str("identity.postalCode", id.PostalCode),
			Country:        d.str("identity.country", id.Country),
			Company:        d.str("identity.company", id.Company),
			Email:          d.str("identity.email", id.Email),
			Phone:          d.str("identity.phone", id.Phone),
			SSN:            d.str("identity.ssn", id.SSN),
			Username:       d.str("identity.username", id.Username),
			PassportNumber: d.str("identity.passportNumber", id.PassportNumber),
			LicenseNumber:  d.str("identity.licenseNumber", id.LicenseNumber),
		}
	}
	if rec.SecureNote != nil {
		n := *rec.SecureNote
		v.SecureNote = &n
	}
	for i, f := range rec.Fields {
		v.Fields = append(v.Fields, FieldView{
			Type:  f.Type,
			Name:  d.str(fmt.Sprintf("fields[%d].name", i), f.Name),
			Value: d.str(fmt.Sprintf("fields[%d].value", i), f.Value),
		})
	}
	if d.err != nil {
		return nil, d.err
	}
	return v, nil
}

type fieldEncrypter struct {
	svc *crypto.Service
	key *crypto.SymmetricKey
	err error
}

func (e *fieldEncrypter) str(field, s string) crypto.EncString {
	if e.err != nil || s == "" {
		return crypto.EncString{}
	}
	es, err := e.svc.EncryptToEncString([]byte(s), e.key)
	if err != nil {
		e.err = fmt.Errorf("encrypting %s: %w", field, err)
	}
	return es
}

func encryptView(svc *crypto.Service, v *CipherView, key *crypto.SymmetricKey) (*CipherRecord, error) {
	if err := ValidateView(v); err != nil {
		return nil, err
	}
	if key == nil {
		return nil, &DecryptError{Kind: KeyUnavailable, CipherID: v.ID}
	}
	k, owned, err := itemKey(svc, v.Key, key)
	if err != nil {
		return nil, fmt.Errorf("unwrapping item key: %w", err)
	}
	if owned {
		defer k.Wipe()
	}

	e := &fieldEncrypter{svc: svc, key: k}
	r := &CipherRecord{
		ID:             v.ID,
		OrganizationID: v.OrganizationID,
		FolderID:       v.FolderID,
		CollectionIDs:  append([]string(nil), v.CollectionIDs...),
		Type:           v.Type,
		RevisionDate:   v.RevisionDate,
		DeletedDate:    v.DeletedDate,
		Favorite:       v.Favorite,
		Reprompt:       v.Reprompt,
		Key:            v.Key,
		Name:           e.str("name", v.Name),
		Notes:          e.str("notes", v.Notes),
	}
	if l := v.Login; l != nil {
		r.Login = &LoginRecord{
			Username: e.str("login.username", l.Username),
			Password: e.str("login.password", l.Password),
			TOTP:     e.str("login.totp", l.TOTP),
		}
		for _, u := range l.URIs {
			r.Login.URIs = append(r.Login.URIs, URIRecord{URI: e.str("login.uri", u.URI), Match: u.Match})
		}
	}
	if c := v.Card; c != nil {
		r.Card = &CardRecord{
			CardholderName: e.str("card.cardholderName", c.CardholderName),
			Brand:          e.str("card.brand", c.Brand),
			Number:         e.str("card.number", c.Number),
			ExpMonth:       e.str("card.expMonth", c.ExpMonth),
			ExpYear:        e.str("card.expYear", c.ExpYear),
			Code:           e.str("card.code", c.Code),
		}
	}
	if id := v.Identity; id != nil {
		r.Identity = &IdentityRecord{
			Title:          e.str("identity.title", id.Title),
			FirstName:      e.str("identity.firstName", id.FirstName),
			MiddleName:     e.str("identity.middleName", id.MiddleName),
			LastName:       e.str("identity.lastName", id.LastName),
			Address1:       e.str("identity.address1", id.Address1),
			Address2:       e.str("identity.address2", id.Address2),
			City:           e.str("identity.city", id.City),
			State:          e.str("identity.state", id.State),
			PostalCode:     e.str("identity.postalCode", id.PostalCode),
			Country:        e.str("identity.country", id.Country),
			Company:        e.str("identity.company", id.Company),
			Email:          e.str("identity.email", id.Email),
			Phone:          e.str("identity.phone", id.Phone),
			SSN:            e.str("identity.ssn", id.SSN),
			Username:       e.str("identity.username", id.Username),
			PassportNumber: e.str("identity.passportNumber", id.PassportNumber),
			LicenseNumber:  e.str("identity.licenseNumber", id.LicenseNumber),
		}
	}
	if v.SecureNote != nil {
		n := *v.SecureNote
		r.SecureNote = &n
	}
	for _, f := range v.Fields {
		r.Fields = append(r.Fields, FieldRecord{
			Type:  f.Type,
			Name:  e.str("field.name", f.Name),
			Value: e.str("field.value", f.Value),
		})
	}
	if e.err != nil {
		return nil, e.err
	}
	return r, nil
}

// NewItemKey generates a fresh per-item key wrapped under key, for views
// that should not share the vault or organization key directly.
func NewItemKey(key *crypto.SymmetricKey) (crypto.EncString, error) {
	svc := crypto.Default()
	k, err := svc.GenerateSymmetricKey()
	if err != nil {
		return crypto.EncString{}, err
	}
	defer k.Wipe()
	raw := k.Bytes()
	defer util.WipeBytes(raw)
	return svc.EncryptToEncString(raw, key)
}
