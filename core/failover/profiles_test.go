package failover

import (
	"testing"

	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAuthProfiles_OrderAndNames(t *testing.T) {
	cfg := &schemas.LiveConfig{
		APIKey:           "key-a",
		FallbackAPIKey:   "key-b",
		AuthProfilesJSON: `[{"name":"team","apiKey":"key-c"},{"headers":{"Authorization":"Bearer t"}}]`,
		AuthProfiles: []schemas.AuthProfileConfig{
			{Name: "yaml", APIKey: "key-d"},
		},
	}

	got, err := BuildAuthProfiles(cfg)
	require.NoError(t, err)

	var names []string
	for _, p := range got {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"primary", "fallback", "team", "profile-4", "yaml"}, names)
}

func TestBuildAuthProfiles_DeduplicatesByCredential(t *testing.T) {
	cfg := &schemas.LiveConfig{
		APIKey:           "key-a",
		FallbackAPIKey:   " key-a ",
		AuthProfilesJSON: `[{"name":"dup","apiKey":"key-a"},{"name":"other","apiKey":"key-b"}]`,
	}

	got, err := BuildAuthProfiles(cfg)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "primary", got[0].Name)
	assert.Equal(t, "other", got[1].Name)
}

func TestBuildAuthProfiles_SkipsEmptyAndRejectsBadJSON(t *testing.T) {
	got, err := BuildAuthProfiles(&schemas.LiveConfig{
		AuthProfiles: []schemas.AuthProfileConfig{{Name: "empty"}},
	})
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = BuildAuthProfiles(&schemas.LiveConfig{AuthProfilesJSON: `{not json`})
	assert.Error(t, err)
}

func TestFingerprint_IgnoresNameAndHeaderOrder(t *testing.T) {
	a := schemas.AuthProfileConfig{Name: "a", APIKey: "k", Headers: map[string]string{"X-One": "1", "X-Two": "2"}}
	b := schemas.AuthProfileConfig{Name: "b", APIKey: "k", Headers: map[string]string{"x-two": "2", "x-one": "1"}}
	c := schemas.AuthProfileConfig{Name: "a", APIKey: "k2"}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}
