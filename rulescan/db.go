package rulescan

import (
	"strings"

	"github.com/chainlock/chainlock"
)

// DB is an in-memory index of the known-malicious feed.
type DB struct {
	byName map[string][]FeedEntry
}

// NewDB indexes the given entries. Seed entries for incidents every scanner
// should know about are always included.
func NewDB(entries []FeedEntry) *DB {
	db := &DB{byName: make(map[string][]FeedEntry, len(entries)+len(seedEntries))}
	for _, e := range seedEntries {
		db.add(e)
	}
	for _, e := range entries {
		db.add(e)
	}
	return db
}

func (db *DB) add(e FeedEntry) {
	k := dbKey(e.Ecosystem, e.Name)
	db.byName[k] = append(db.byName[k], e)
}

func dbKey(e chainlock.Ecosystem, name string) string {
	return string(e) + "\x00" + chainlock.NormalizeName(e, name)
}

// Len reports the number of indexed package names.
func (db *DB) Len() int { return len(db.byName) }

// Lookup reports the feed entry matching ref, if any. An entry with no
// version list matches every version.
func (db *DB) Lookup(ref chainlock.PackageRef) (FeedEntry, bool) {
	for _, e := range db.byName[dbKey(ref.Ecosystem, ref.Name)] {
		if len(e.Versions) == 0 {
			return e, true
		}
		for _, v := range e.Versions {
			if strings.TrimSpace(v) == ref.Version {
				return e, true
			}
		}
	}
	return FeedEntry{}, false
}

// seedEntries cover incidents that predate any configured feed. A configured
// feed extends this set, it never replaces it.
var seedEntries = []FeedEntry{
	{
		Ecosystem:  chainlock.NPM,
		Name:       "flatmap-stream",
		Versions:   []string{"0.1.1", "0.1.2", "0.2.0"},
		Summary:    "injected bitcoin wallet stealer shipped via event-stream",
		References: []string{"https://github.com/dominictarr/event-stream/issues/116"},
	},
	{
		Ecosystem:  chainlock.NPM,
		Name:       "eslint-scope",
		Versions:   []string{"3.7.2"},
		Summary:    "compromised release harvesting npm credentials",
		References: []string{"https://github.com/eslint/eslint-scope/issues/39"},
	},
	{
		Ecosystem:  chainlock.NPM,
		Name:       "ua-parser-js",
		Versions:   []string{"0.7.29", "0.8.0", "1.0.0"},
		Summary:    "compromised releases bundling a cryptominer and password stealer",
		References: []string{"https://github.com/advisories/GHSA-pjwm-rvh2-c87w"},
	},
	{
		Ecosystem:  chainlock.NPM,
		Name:       "coa",
		Versions:   []string{"2.0.3", "2.0.4", "2.1.1", "2.1.3", "3.0.1", "3.1.3"},
		Summary:    "compromised releases running a credential stealer on install",
		References: []string{"https://github.com/advisories/GHSA-73qr-pfmq-6rp8"},
	},
	{
		Ecosystem:  chainlock.PyPI,
		Name:       "ctx",
		Versions:   []string{"0.2.2", "0.2.6"},
		Summary:    "hijacked package exfiltrating AWS credentials",
		References: []string{"https://blog.pypi.org/posts/2022-05-24-ctx-hijack/"},
	},
	{
		Ecosystem: chainlock.PyPI,
		Name:      "colourama",
		Summary:   "typosquat of colorama installing a clipboard hijacker",
	},
}
