package concierge

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache stores evaluation decisions. Entries are derived data: a backend may
// drop any of them at any time. Set is last-writer-wins and needs no
// coordination with Get.
type Cache interface {
	// Get returns a live entry for key.
	Get(ctx context.Context, key CacheKey) (*CacheEntry, bool)

	// Set stores an entry until its ExpiresAt.
	Set(ctx context.Context, key CacheKey, entry *CacheEntry) error

	// InvalidateSubject removes every entry of a subject.
	InvalidateSubject(ctx context.Context, subjectID string) error

	// InvalidateAll removes every entry.
	InvalidateAll(ctx context.Context) error
}

// CacheKey identifies a decision: the subject, the permission key and a
// fingerprint of the serialized evaluation context.
type CacheKey struct {
	SubjectID   string
	Permission  string
	Fingerprint uint64
}

// String renders the key as "subject|permission|fingerprint". Backends use it
// as their storage key; the subject prefix allows per-subject invalidation.
func (k CacheKey) String() string {
	return k.SubjectID + "|" + k.Permission + "|" + strconv.FormatUint(k.Fingerprint, 16)
}

// SubjectPrefix is the prefix every key of subjectID starts with.
func SubjectPrefix(subjectID string) string { return subjectID + "|" }

// HasSubject reports whether a rendered key belongs to subjectID.
func HasSubject(renderedKey, subjectID string) bool {
	return strings.HasPrefix(renderedKey, SubjectPrefix(subjectID))
}

// CacheEntry is a cached decision.
type CacheEntry struct {
	Allowed    bool      `json:"allowed"`
	Reason     string    `json:"reason,omitempty"`
	Source     Source    `json:"source"`
	Conditions []string  `json:"conditions,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Live reports whether the entry has not expired at now.
func (e *CacheEntry) Live(now time.Time) bool { return now.Before(e.ExpiresAt) }

// cacheKeyFor fingerprints a request. json.Marshal sorts map keys, so equal
// contexts always hash equally.
func cacheKeyFor(appID string, req *EvaluateRequest) CacheKey {
	payload, err := json.Marshal(struct {
		App     string      `json:"app,omitempty"`
		Context EvalContext `json:"ctx"`
	}{appID, req.Context})
	if err != nil {
		// Unserializable attributes: fall back to the tenant fields only.
		payload = []byte(appID + "|" + req.Context.OrganizationID + "|" + req.Context.PropertyID +
			"|" + req.Context.DepartmentID + "|" + req.Context.ResourceID + "|" + req.Context.OwnerID)
	}
	return CacheKey{
		SubjectID:   req.SubjectID,
		Permission:  req.Key(),
		Fingerprint: xxhash.Sum64(payload),
	}
}
