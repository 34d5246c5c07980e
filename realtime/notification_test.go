package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Notification
		ids  []string
	}{
		{
			name: "single id",
			in:   `{"event":"sync","type":"cipherUpdate","data":{"id":"c1"}}`,
			want: Notification{Event: EventSync, Type: TypeCipherUpdate, Data: Data{ID: "c1"}},
			ids:  []string{"c1"},
		},
		{
			name: "id list",
			in:   `{"event":"sync","type":"cipherDelete","data":{"id":"c1","ids":["c2","c1","","c3"]}}`,
			want: Notification{Event: EventSync, Type: TypeCipherDelete, Data: Data{ID: "c1", IDs: []string{"c2", "c1", "", "c3"}}},
			ids:  []string{"c1", "c2", "c3"},
		},
		{
			name: "members",
			in:   `{"event":"members"}`,
			want: Notification{Event: EventMembers},
		},
		{
			name: "unknown type kept",
			in:   `{"event":"sync","type":"folderUpdate"}`,
			want: Notification{Event: EventSync, Type: "folderUpdate"},
		},
		{
			name: "missing event",
			in:   `{"type":"cipherUpdate","data":{"id":"c1"}}`,
			want: Notification{},
		},
		{
			name: "unknown event",
			in:   `{"event":"folders","type":"cipherDelete","data":{"ids":["c1"]}}`,
			want: Notification{Event: "folders"},
		},
		{
			name: "foreign shape",
			in:   `{"kind":"whatever"}`,
			want: Notification{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			assert.Equal(t, tt.ids, n.CipherIDs())
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, in := range []string{``, `[]`, `"sync"`, `{"event":`, `not json`} {
		_, err := Parse([]byte(in))
		assert.ErrorIs(t, err, ErrMalformed, in)
	}
}
