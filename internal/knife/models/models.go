package models

import "time"

// State store key prefixes. A run moves new → pending → processing →
// complete; exactly one marker exists per run at any moment.
const (
	KeyNew        = "new."
	KeyPending    = "pending."
	KeyProcessing = "processing."
	KeyRateLimit  = "ratelimit."
	KeyComplete   = "complete."
	KeyAuthState  = "authstate."
	KeyAlltime    = "alltime"
)

// Marker and document lifetimes.
const (
	PendingTTL    = 70 * time.Second
	ProcessingTTL = 2 * time.Hour
	CompleteTTL   = 7 * 24 * time.Hour
	AuthStateTTL  = 5 * time.Minute
	RateLimitTTL  = time.Minute
)

// RateLimitThreshold is the per-IP request budget per RateLimitTTL window.
const RateLimitThreshold = 20

// NPCCorpMax is the highest NPC corporation ID. NPC corp endpoints require
// roles an access token cannot hold, so those pools are dropped entirely.
const NPCCorpMax = 2000000

// PoolTable maps a known parent parameter to the child parameters whose ID
// pools are discovered by fetching a listing route.
type PoolTable map[string]map[string]string

// Pools holds the discovered fan-out ID lists: parent → child → IDs.
type Pools map[string]map[string][]any

// ResultMap maps a concrete ESI URL to its response value: a decoded JSON
// body, a merged page list, or an error marker string.
type ResultMap map[string]any

// StringSet is a membership set for scopes and roles.
type StringSet map[string]struct{}

// NewStringSet builds a set from its items.
func NewStringSet(items ...string) StringSet {
	s := make(StringSet, len(items))
	for _, item := range items {
		s[item] = struct{}{}
	}
	return s
}

// HasAll reports whether every required item is in the set.
func (s StringSet) HasAll(required []string) bool {
	for _, item := range required {
		if _, ok := s[item]; !ok {
			return false
		}
	}
	return true
}

// InitialPools returns the fixed table of listing routes that seed the
// fan-out ID pools. Entries are purged when the token lacks the scopes or
// roles for the listing route.
func InitialPools() PoolTable {
	return PoolTable{
		"character_id": {
			"event_id":    "/characters/{character_id}/calendar/",
			"contract_id": "/characters/{character_id}/contracts/",
			"fitting_id":  "/characters/{character_id}/fittings/",
			"label_id":    "/characters/{character_id}/mail/labels/",
			"planet_id":   "/characters/{character_id}/planets/",
			"mail_id":     "/characters/{character_id}/mail/",
		},
		"corporation_id": {
			"observer_id": "/corporation/{corporation_id}/mining/observers/",
			"contract_id": "/corporations/{corporation_id}/contracts/",
			"starbase_id": "/corporations/{corporation_id}/starbases/",
			"division":    "/corporations/{corporation_id}/wallets/",
		},
	}
}
