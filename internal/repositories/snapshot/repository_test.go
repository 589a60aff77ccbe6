package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestMutualSlotKeyRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		key  models.PerspectiveKey
	}{
		{name: "plain", key: models.PerspectiveKey{OwnerType: "user", OwnerID: "u1", TargetType: "team"}},
		{name: "owner id with separator", key: models.PerspectiveKey{OwnerType: "user", OwnerID: "org/42/u1", TargetType: "team"}},
		{name: "percent and space", key: models.PerspectiveKey{OwnerType: "user", OwnerID: "50% off", TargetType: "team"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := parseMutualSlotKey(mutualSlotKey(tt.key))
			require.NoError(t, err)
			assert.Equal(t, tt.key, parsed)
		})
	}
}

func TestParseMutualSlotKeyRejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "user", "user/u1", "user//team", "/u1/team", "user/u1/team/extra", "user/%zz/team"} {
		_, err := parseMutualSlotKey(raw)
		assert.Error(t, err, "raw=%q", raw)
	}
}
