// Package model defines the user metadata records exchanged between lookup
// tiers, and the strict parsing boundary that converts raw upstream
// responses into those records.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/userloc/go-userloc/apierror"
)

// SourceTier identifies which lookup tier produced a result.
type SourceTier string

const (
	// TierLocal is the in-process bounded cache.
	TierLocal SourceTier = "local"
	// TierShared is the community shared cache.
	TierShared SourceTier = "shared"
	// TierLive is a direct upstream API call.
	TierLive SourceTier = "live"
	// TierNone means no tier produced data, such as when live lookups are
	// disabled or rate limited.
	TierNone SourceTier = "none"
)

func (t SourceTier) String() string {
	return string(t)
}

// UserInfo is the metadata known for one username. Values are immutable once
// produced. A nil *UserInfo is a valid negative result, meaning a lookup
// completed and found nothing, which is distinct from an absent cache key.
type UserInfo struct {
	// Location is the approximate account location, empty when unknown.
	Location string `json:"location,omitempty"`
	// Device is the client device or app flavor, empty when unknown.
	Device string `json:"device,omitempty"`
	// Accurate reports whether the upstream considers the location precise
	// rather than inferred through a VPN or proxy.
	Accurate bool `json:"accurate"`
	// UpdatedAt is when this record was produced.
	UpdatedAt time.Time `json:"updated_at"`
	// Tier records which lookup tier produced the record.
	Tier SourceTier `json:"tier,omitempty"`
}

// WithTier returns a shallow copy of info tagged with the given tier. A nil
// receiver stays nil, so negative results pass through unchanged.
func (u *UserInfo) WithTier(tier SourceTier) *UserInfo {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Tier = tier
	return &cp
}

const maxKeyLen = 15

// NormalizeKey converts a username into the canonical lookup key: an
// optional leading @ is dropped and the rest is lowercased. The normalized
// key must be 1-15 characters from [a-z0-9_], otherwise an invalid-input
// error is returned. All cache, coalescing, and rate-limit state is keyed by
// the normalized form so differently-cased inputs share one entry.
func NormalizeKey(username string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	name = strings.ToLower(name)
	if len(name) == 0 || len(name) > maxKeyLen {
		return "", apierror.NewKind(fmt.Errorf("username must be 1-%d characters: %q", maxKeyLen, username), apierror.KindInvalidInput)
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return "", apierror.NewKind(fmt.Errorf("username contains invalid character %q: %q", r, username), apierror.KindInvalidInput)
		}
	}
	return name, nil
}

// rawResponse mirrors the upstream's nested response shape. Every field is
// optional; all duck-typing is confined to this file.
type rawResponse struct {
	Data *struct {
		User *struct {
			Result *struct {
				Legacy *struct {
					ScreenName string `json:"screen_name"`
				} `json:"legacy"`
				Location *struct {
					Place  string `json:"place"`
					Detail *struct {
						Device       string `json:"device"`
						AccuracyHint string `json:"accuracy_hint"`
					} `json:"detail"`
				} `json:"location"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

// ParseUserInfo converts a raw upstream response body into a UserInfo. A
// response that decodes but carries no user result yields (nil, nil): the
// upstream answered and found nothing. A body that does not match the
// expected shape yields a parse error.
func ParseUserInfo(raw []byte) (*UserInfo, error) {
	var resp rawResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, apierror.NewKind(fmt.Errorf("unexpected response shape: %w", err), apierror.KindParseError)
	}
	if resp.Data == nil {
		return nil, apierror.NewKind(fmt.Errorf("response has no data envelope"), apierror.KindParseError)
	}
	if resp.Data.User == nil || resp.Data.User.Result == nil {
		// Upstream answered with an empty result: no such data.
		return nil, nil
	}
	loc := resp.Data.User.Result.Location
	if loc == nil {
		return nil, nil
	}

	info := &UserInfo{
		Location:  loc.Place,
		UpdatedAt: time.Now().UTC(),
		Tier:      TierLive,
	}
	if detail := loc.Detail; detail != nil {
		info.Device = detail.Device
		info.Accurate = detail.AccuracyHint == "precise"
	}
	return info, nil
}
