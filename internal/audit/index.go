package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	domerr "github.com/teaclave-sh/lifecycle/internal/errors"
	"github.com/teaclave-sh/lifecycle/internal/kv"
	"github.com/teaclave-sh/lifecycle/internal/types"
)

const (
	entryPrefix   = "audit_entry/"
	postingPrefix = "audit_posting/"
)

// Index appends and queries audit entries atop a kv.Store.
type Index struct {
	store kv.Store
}

func New(store kv.Store) *Index {
	return &Index{store: store}
}

// entryKey zero-pads the microsecond timestamp so lexicographic and
// chronological order coincide for range scans.
func entryKey(microsecond int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entryPrefix, microsecond))
}

func postingKey(term string) []byte {
	return []byte(postingPrefix + term)
}

// Append persists entry and indexes its terms. If entry.Microsecond is
// zero it is stamped with the current time, retrying on a microsecond
// collision so two entries never share a key.
func (idx *Index) Append(entry types.AuditEntry) error {
	if entry.Microsecond == 0 {
		entry.Microsecond = time.Now().UnixMicro()
	}

	key := entryKey(entry.Microsecond)
	for {
		raw, err := json.Marshal(entry)
		if err != nil {
			return domerr.Wrap(domerr.Internal, "audit.Append", "marshal entry", err)
		}
		swapped, err := idx.store.CompareAndSwap(key, nil, raw)
		if err != nil {
			return domerr.Wrap(domerr.Internal, "audit.Append", "persist entry", err)
		}
		if swapped {
			break
		}
		entry.Microsecond++ // microsecond collision with a concurrent writer; bump and retry
		key = entryKey(entry.Microsecond)
	}

	for _, term := range termsFor(entry) {
		if err := idx.addPosting(term, key); err != nil {
			return err
		}
	}
	return nil
}

// termsFor derives the indexed terms for an entry: field:value pairs
// plus lowercased whitespace-split tokens from the free-text message.
func termsFor(entry types.AuditEntry) []string {
	terms := []string{
		"user:" + entry.User,
		"result:" + strconv.FormatBool(entry.Result),
	}
	if entry.IP != "" {
		terms = append(terms, "ip:"+entry.IP)
	}
	for _, word := range strings.Fields(entry.Message) {
		terms = append(terms, strings.ToLower(trimPunct(word)))
	}
	return terms
}

func trimPunct(s string) string {
	return strings.Trim(s, ".,:;()[]{}\"'")
}

func (idx *Index) addPosting(term string, entryKeyBytes []byte) error {
	key := postingKey(term)
	for {
		existing, err := idx.store.Get(key)
		notFound := domerr.Is(err, domerr.NotFound)
		if err != nil && !notFound {
			return domerr.Wrap(domerr.Internal, "audit.addPosting", "read posting list", err)
		}
		var list []string
		var expected []byte
		if !notFound {
			expected = existing
			if jsonErr := json.Unmarshal(existing, &list); jsonErr != nil {
				return domerr.Wrap(domerr.Internal, "audit.addPosting", "decode posting list", jsonErr)
			}
		}
		list = append(list, string(entryKeyBytes))
		raw, err := json.Marshal(list)
		if err != nil {
			return domerr.Wrap(domerr.Internal, "audit.addPosting", "encode posting list", err)
		}
		swapped, err := idx.store.CompareAndSwap(key, expected, raw)
		if err != nil {
			return domerr.Wrap(domerr.Internal, "audit.addPosting", "persist posting list", err)
		}
		if swapped {
			return nil
		}
		// another writer appended concurrently; re-read and retry
	}
}

// allEntryKeys scans every indexed entry directly, bypassing the
// posting lists entirely. Backs the "*" wildcard query.
func (idx *Index) allEntryKeys() (map[string]bool, error) {
	set := map[string]bool{}
	err := idx.store.Enumerate([]byte(entryPrefix), func(key, _ []byte) error {
		set[string(key)] = true
		return nil
	})
	if err != nil {
		return nil, domerr.Wrap(domerr.Internal, "audit.allEntryKeys", "enumerate entries", err)
	}
	return set, nil
}

func (idx *Index) posting(term string) (map[string]bool, error) {
	raw, err := idx.store.Get(postingKey(term))
	if err != nil {
		if domerr.Is(err, domerr.NotFound) {
			return map[string]bool{}, nil
		}
		return nil, domerr.Wrap(domerr.Internal, "audit.posting", "read posting list", err)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, domerr.Wrap(domerr.Internal, "audit.posting", "decode posting list", err)
	}
	set := make(map[string]bool, len(list))
	for _, k := range list {
		set[k] = true
	}
	return set, nil
}

// Query evaluates a small boolean/field grammar:
//
//	*                 wildcard, matches every entry
//	term              bare term, matched against message tokens only
//	field:value       exact posting lookup, e.g. "user:alice", "result:false"
//	a AND b           intersection
//	a OR b            union, lower precedence than AND
//
// Matching entries are returned newest-first, capped at limit.
func (idx *Index) Query(query string, limit int) ([]types.AuditEntry, error) {
	keys, err := idx.evaluate(query)
	if err != nil {
		return nil, err
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(sorted)))
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	entries := make([]types.AuditEntry, 0, len(sorted))
	for _, k := range sorted {
		raw, err := idx.store.Get([]byte(k))
		if err != nil {
			if domerr.Is(err, domerr.NotFound) {
				continue // posting outlived the entry it points to; skip it
			}
			return nil, domerr.Wrap(domerr.Internal, "audit.Query", "read entry", err)
		}
		var entry types.AuditEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, domerr.Wrap(domerr.Internal, "audit.Query", "decode entry", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (idx *Index) evaluate(query string) (map[string]bool, error) {
	orClauses := splitTopLevel(query, "OR")
	result := map[string]bool{}
	for _, clause := range orClauses {
		andTerms := splitTopLevel(clause, "AND")
		var clauseSet map[string]bool
		for i, term := range andTerms {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			var set map[string]bool
			var err error
			if term == "*" {
				set, err = idx.allEntryKeys()
			} else {
				set, err = idx.posting(normalizeTerm(term))
			}
			if err != nil {
				return nil, err
			}
			if i == 0 {
				clauseSet = set
			} else {
				clauseSet = intersect(clauseSet, set)
			}
		}
		for k := range clauseSet {
			result[k] = true
		}
	}
	return result, nil
}

func normalizeTerm(term string) string {
	if strings.Contains(term, ":") {
		return term
	}
	return strings.ToLower(term)
}

func splitTopLevel(s, sep string) []string {
	return strings.Split(s, " "+sep+" ")
}

func intersect(a, b map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}
