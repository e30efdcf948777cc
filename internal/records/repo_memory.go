package records

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"vibe-backend/internal/regions"
)

// MemoryRepo stores records in memory and is safe for concurrent use.
type MemoryRepo struct {
	mu   sync.RWMutex
	byID map[string]Record
	now  func() time.Time
}

// NewMemoryRepo constructs a MemoryRepo.
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byID: make(map[string]Record),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// NewMemoryRepoWithClock constructs a MemoryRepo that stamps writes with now.
func NewMemoryRepoWithClock(now func() time.Time) *MemoryRepo {
	r := NewMemoryRepo()
	if now != nil {
		r.now = now
	}
	return r
}

// GetByID returns a record by primary key.
func (r *MemoryRepo) GetByID(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return clone(rec), nil
}

// GetByFingerprint returns a record by device fingerprint.
func (r *MemoryRepo) GetByFingerprint(ctx context.Context, fingerprint string) (Record, error) {
	return r.find(ctx, func(rec Record) bool {
		return fingerprint != "" && rec.Fingerprint == fingerprint
	})
}

// GetByClaimToken returns the record currently holding token.
func (r *MemoryRepo) GetByClaimToken(ctx context.Context, token string) (Record, error) {
	return r.find(ctx, func(rec Record) bool {
		return token != "" && rec.ClaimToken != nil && *rec.ClaimToken == token
	})
}

// FindRecentByDisplayName returns the latest active anonymous record for name.
func (r *MemoryRepo) FindRecentByDisplayName(ctx context.Context, name string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	want := NormalizeDisplayName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best Record
	found := false
	for _, rec := range r.byID {
		if rec.DisplayName == nil || NormalizeDisplayName(*rec.DisplayName) != want {
			continue
		}
		if rec.Kind != KindFingerprint || rec.TotalMessages <= 0 {
			continue
		}
		if !found || rec.UpdatedAt.After(best.UpdatedAt) {
			best, found = rec, true
		}
	}
	if !found {
		return Record{}, ErrNotFound
	}
	return clone(best), nil
}

// Upsert writes rec by primary key.
func (r *MemoryRepo) Upsert(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fingerprintTakenLocked(rec.Fingerprint, rec.ID) || r.tokenTakenLocked(rec.ClaimToken, rec.ID) {
		return Record{}, ErrConflict
	}
	now := r.now()
	if existing, ok := r.byID[rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Kind == "" {
		rec.Kind = KindFingerprint
	}
	rec.UpdatedAt = now
	r.byID[rec.ID] = clone(rec)
	return clone(rec), nil
}

// UpsertByFingerprint inserts rec or merges it into the row with the same fingerprint.
func (r *MemoryRepo) UpsertByFingerprint(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var existing *Record
	for id, cur := range r.byID {
		if rec.Fingerprint != "" && cur.Fingerprint == rec.Fingerprint {
			c := r.byID[id]
			existing = &c
			break
		}
	}
	now := r.now()
	if existing == nil {
		if _, taken := r.byID[rec.ID]; taken || r.tokenTakenLocked(rec.ClaimToken, rec.ID) {
			return Record{}, ErrConflict
		}
		if rec.Kind == "" {
			rec.Kind = KindFingerprint
		}
		rec.CreatedAt, rec.UpdatedAt = now, now
		r.byID[rec.ID] = clone(rec)
		return clone(rec), nil
	}

	merged := *existing
	if merged.Kind == KindFingerprint {
		if merged.ClaimToken == nil {
			merged.ClaimToken = rec.ClaimToken
		}
	} else {
		merged.ClaimToken = nil
	}
	if rec.DisplayName != nil {
		merged.DisplayName = rec.DisplayName
	}
	merged.Scores = rec.Scores
	merged.TotalMessages = rec.TotalMessages
	merged.TotalChars = rec.TotalChars
	if rec.WorkDays > merged.WorkDays {
		merged.WorkDays = rec.WorkDays
	}
	if rec.Tallies != nil {
		merged.Tallies = rec.Tallies
	}
	if rec.PersonalityType != nil {
		merged.PersonalityType = rec.PersonalityType
	}
	if rec.CountryCode != nil {
		merged.CountryCode = rec.CountryCode
	}
	if rec.Latitude != nil {
		merged.Latitude = rec.Latitude
	}
	if rec.Longitude != nil {
		merged.Longitude = rec.Longitude
	}
	merged.UpdatedAt = now
	r.byID[merged.ID] = clone(merged)
	return clone(merged), nil
}

// DeleteByID removes a record.
func (r *MemoryRepo) DeleteByID(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

// DeletePlaceholder deletes id when it has no activity.
func (r *MemoryRepo) DeletePlaceholder(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.TotalMessages != 0 || rec.TotalChars != 0 {
		return false, nil
	}
	delete(r.byID, id)
	return true, nil
}

// ConsumeClaimToken clears token on id if it is still present.
func (r *MemoryRepo) ConsumeClaimToken(ctx context.Context, id, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.ClaimToken == nil || *rec.ClaimToken != token {
		return ErrTokenConsumed
	}
	rec.ClaimToken = nil
	rec.UpdatedAt = r.now()
	r.byID[id] = rec
	return nil
}

// RestoreClaimToken puts token back on id if no token is present.
func (r *MemoryRepo) RestoreClaimToken(ctx context.Context, id, token string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok || rec.ClaimToken != nil || rec.Kind != KindFingerprint {
		return ErrNotFound
	}
	if r.tokenTakenLocked(&token, id) {
		return ErrConflict
	}
	rec.ClaimToken = &token
	rec.UpdatedAt = r.now()
	r.byID[id] = rec
	return nil
}

// Rekey moves the anonymous record holding token to targetID.
func (r *MemoryRepo) Rekey(ctx context.Context, srcID, token, targetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[srcID]
	if !ok || rec.Kind != KindFingerprint || rec.ClaimToken == nil || *rec.ClaimToken != token {
		return ErrTokenConsumed
	}
	if _, taken := r.byID[targetID]; taken && targetID != srcID {
		return ErrConflict
	}
	delete(r.byID, srcID)
	rec.ID = targetID
	rec.Kind = KindGitHub
	rec.ClaimToken = nil
	rec.UpdatedAt = r.now()
	r.byID[targetID] = rec
	return nil
}

// Retire soft-deletes the source of a merge.
func (r *MemoryRepo) Retire(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.Kind = KindMigrated
	rec.Fingerprint = RetiredFingerprintPrefix + id
	rec.ClaimToken = nil
	rec.DisplayName = nil
	rec.Tallies = nil
	rec.PersonalityType = nil
	rec.UpdatedAt = r.now()
	r.byID[id] = rec
	return nil
}

// All returns every stored record, including retired ones.
func (r *MemoryRepo) All(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.byID))
	for _, rec := range r.byID {
		out = append(out, clone(rec))
	}
	return out, nil
}

// LocationCounts groups live records by region.
func (r *MemoryRepo) LocationCounts(ctx context.Context, limit int) ([]LocationCount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	counts := make(map[string]int64)
	for _, rec := range r.byID {
		if rec.IsRetired() || rec.CountryCode == nil {
			continue
		}
		region := strings.TrimSpace(*rec.CountryCode)
		if region == "" || region == regions.Global {
			continue
		}
		counts[region]++
	}
	r.mu.RUnlock()

	out := make([]LocationCount, 0, len(counts))
	for region, n := range counts {
		out = append(out, LocationCount{Region: region, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Region < out[j].Region
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Recent returns the newest live records.
func (r *MemoryRepo) Recent(ctx context.Context, limit int) ([]Activity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	live := make([]Record, 0, len(r.byID))
	for _, rec := range r.byID {
		if !rec.IsRetired() {
			live = append(live, rec)
		}
	}
	r.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.After(live[j].CreatedAt) })
	if limit > 0 && len(live) > limit {
		live = live[:limit]
	}
	out := make([]Activity, 0, len(live))
	for _, rec := range live {
		kind := UnknownPersonality
		if rec.PersonalityType != nil && strings.TrimSpace(*rec.PersonalityType) != "" {
			kind = *rec.PersonalityType
		}
		out = append(out, Activity{At: rec.CreatedAt, PersonalityType: kind})
	}
	return out, nil
}

func (r *MemoryRepo) find(ctx context.Context, match func(Record) bool) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.byID {
		if match(rec) {
			return clone(rec), nil
		}
	}
	return Record{}, ErrNotFound
}

func (r *MemoryRepo) fingerprintTakenLocked(fingerprint, id string) bool {
	if fingerprint == "" {
		return false
	}
	for otherID, rec := range r.byID {
		if otherID != id && rec.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

func (r *MemoryRepo) tokenTakenLocked(token *string, id string) bool {
	if token == nil {
		return false
	}
	for otherID, rec := range r.byID {
		if otherID != id && rec.ClaimToken != nil && *rec.ClaimToken == *token {
			return true
		}
	}
	return false
}

func clone(rec Record) Record {
	if rec.Tallies != nil {
		tallies := make(map[string]int64, len(rec.Tallies))
		for k, v := range rec.Tallies {
			tallies[k] = v
		}
		rec.Tallies = tallies
	}
	return rec
}
