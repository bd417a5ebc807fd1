package failover

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/zeebo/blake3"
)

// BuildAuthProfiles assembles the ordered credential list for a live config:
// the primary key, the fallback key, the JSON list and finally the structured
// list. Profiles with identical credential material are collapsed onto the
// first occurrence.
func BuildAuthProfiles(cfg *schemas.LiveConfig) ([]schemas.AuthProfileConfig, error) {
	var candidates []schemas.AuthProfileConfig
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		candidates = append(candidates, schemas.AuthProfileConfig{Name: "primary", APIKey: key})
	}
	if key := strings.TrimSpace(cfg.FallbackAPIKey); key != "" {
		candidates = append(candidates, schemas.AuthProfileConfig{Name: "fallback", APIKey: key})
	}
	if raw := strings.TrimSpace(cfg.AuthProfilesJSON); raw != "" {
		var listed []schemas.AuthProfileConfig
		if err := sonic.UnmarshalString(raw, &listed); err != nil {
			return nil, fmt.Errorf("failed to parse auth profiles json: %w", err)
		}
		candidates = append(candidates, listed...)
	}
	candidates = append(candidates, cfg.AuthProfiles...)

	seen := make(map[string]struct{}, len(candidates))
	profiles := make([]schemas.AuthProfileConfig, 0, len(candidates))
	for i, p := range candidates {
		p.APIKey = strings.TrimSpace(p.APIKey)
		if p.APIKey == "" && len(p.Headers) == 0 {
			continue
		}
		fp := Fingerprint(p)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		if p.Name == "" {
			p.Name = fmt.Sprintf("profile-%d", i+1)
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Fingerprint identifies a profile by its credential material only, so two
// profiles with different names but the same key deduplicate.
func Fingerprint(p schemas.AuthProfileConfig) string {
	h := blake3.New()
	h.Write([]byte(p.APIKey))
	headers := make(map[string]string, len(p.Headers))
	keys := make([]string, 0, len(p.Headers))
	for k, v := range p.Headers {
		lk := strings.ToLower(k)
		headers[lk] = v
		keys = append(keys, lk)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(headers[k]))
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
