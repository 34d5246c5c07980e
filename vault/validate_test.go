package vault

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmcleod/ironkeep/crypto"
	"github.com/jmcleod/ironkeep/internal/uuid"
)

func TestValidateID(t *testing.T) {
	for _, id := range []string{"c1", uuid.New(), uuid.NewTemp(), "org_7-a"} {
		assert.NoError(t, validateID(id, "cipher"), id)
	}

	tests := []struct {
		name, id, want string
	}{
		{"empty", "", "must not be empty"},
		{"over length", strings.Repeat("x", MaxIDLength+1), "exceeds maximum length"},
		{"path separator", "a/b", "forbidden character"},
		{"key separator", "a:b", "forbidden character"},
		{"nul byte", "a\x00b", "control character"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateID(tt.id, "cipher")
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestValidateRecord(t *testing.T) {
	key := newKey(t)
	rec := encrypted(t, loginView(1), key)
	assert.NoError(t, ValidateRecord(rec))

	t.Run("nil", func(t *testing.T) {
		assert.ErrorIs(t, ValidateRecord(nil), ErrValidation)
	})

	t.Run("no name", func(t *testing.T) {
		bad := *rec
		bad.Name = crypto.EncString{}
		err := ValidateRecord(&bad)
		assert.ErrorIs(t, err, ErrValidation)
		assert.Contains(t, err.Error(), "has no name")
	})

	t.Run("bad type", func(t *testing.T) {
		bad := *rec
		bad.Type = 0
		assert.ErrorIs(t, ValidateRecord(&bad), ErrValidation)
	})

	t.Run("bad organization", func(t *testing.T) {
		bad := *rec
		bad.OrganizationID = "org/1"
		err := ValidateRecord(&bad)
		assert.Contains(t, err.Error(), "organization ID")
	})

	t.Run("too many fields", func(t *testing.T) {
		bad := *rec
		bad.Fields = make([]FieldRecord, MaxFieldCount+1)
		err := ValidateRecord(&bad)
		assert.Contains(t, err.Error(), "field count")
	})
}

func TestValidateView(t *testing.T) {
	assert.NoError(t, ValidateView(loginView(1)))

	t.Run("temporary id", func(t *testing.T) {
		v := loginView(1)
		v.ID = uuid.NewTemp()
		assert.NoError(t, ValidateView(v))
	})

	t.Run("new view without id", func(t *testing.T) {
		v := loginView(1)
		v.ID = ""
		assert.NoError(t, ValidateView(v))
	})

	t.Run("empty name", func(t *testing.T) {
		v := loginView(1)
		v.Name = ""
		assert.ErrorIs(t, ValidateView(v), ErrValidation)
	})
}
