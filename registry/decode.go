package registry

import (
	"encoding/json"
	"io"
	"sort"
	"strings"
	"time"
)

// maxResponseBytes bounds how much of a registry response is read. The npm
// packument for a popular package can run to tens of megabytes.
const maxResponseBytes = 32 << 20

func readAllLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxResponseBytes))
}

// npmVersion models the fields of a registry.npmjs.org version document
// useful for metadata extraction.
type npmVersion struct {
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	Dependencies map[string]string `json:"dependencies"`
	Deprecated   string            `json:"deprecated"`
	Maintainers  []npmMaintainer   `json:"maintainers"`
	Scripts      map[string]string `json:"scripts"`
}

type npmMaintainer struct {
	Name string `json:"name"`
}

func decodeNPMVersion(b []byte) (*Metadata, error) {
	var doc npmVersion
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	md := Metadata{
		Name:         doc.Name,
		Version:      doc.Version,
		Dependencies: doc.Dependencies,
		Deprecated:   doc.Deprecated,
		Scripts:      doc.Scripts,
		Downloads:    -1,
	}
	for _, m := range doc.Maintainers {
		md.Maintainers = append(md.Maintainers, m.Name)
	}
	return &md, nil
}

// npmPackument models the package-level document: the "time" map is the
// publish timeline, "versions" carries per-version dependency sets.
type npmPackument struct {
	Name        string                `json:"name"`
	DistTags    map[string]string     `json:"dist-tags"`
	Time        map[string]string     `json:"time"`
	Maintainers []npmMaintainer       `json:"maintainers"`
	Versions    map[string]npmVersion `json:"versions"`
}

func decodeNPMPackument(b []byte) (*History, error) {
	var doc npmPackument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	h := History{
		Name:                  doc.Name,
		Latest:                doc.DistTags["latest"],
		DependenciesByVersion: make(map[string]map[string]string, len(doc.Versions)),
	}
	for _, m := range doc.Maintainers {
		h.Maintainers = append(h.Maintainers, m.Name)
	}
	for ver, t := range doc.Time {
		switch ver {
		case "created":
			if ts, err := time.Parse(time.RFC3339, t); err == nil {
				h.FirstPublished = ts
			}
			continue
		case "modified":
			continue
		}
		rel := Release{Version: ver}
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			rel.ReleasedAt = ts
		}
		h.Releases = append(h.Releases, rel)
	}
	sort.Slice(h.Releases, func(i, j int) bool {
		return h.Releases[i].ReleasedAt.Before(h.Releases[j].ReleasedAt)
	})
	for ver, v := range doc.Versions {
		if len(v.Dependencies) != 0 {
			h.DependenciesByVersion[ver] = v.Dependencies
		}
	}
	return &h, nil
}

// pypiProject models the pypi.org JSON API response. The same shape is
// served for /pypi/{name}/json and /pypi/{name}/{version}/json; the former
// includes the full "releases" map.
type pypiProject struct {
	Info struct {
		Name         string   `json:"name"`
		Version      string   `json:"version"`
		Author       string   `json:"author"`
		AuthorEmail  string   `json:"author_email"`
		Maintainer   string   `json:"maintainer"`
		RequiresDist []string `json:"requires_dist"`
		Yanked       bool     `json:"yanked"`
		YankedReason string   `json:"yanked_reason"`
	} `json:"info"`
	Releases map[string][]pypiFile `json:"releases"`
	URLs     []pypiFile            `json:"urls"`
}

type pypiFile struct {
	UploadTime string `json:"upload_time_iso_8601"`
}

func decodePyPIVersion(b []byte) (*Metadata, error) {
	var doc pypiProject
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	md := Metadata{
		Name:      doc.Info.Name,
		Version:   doc.Info.Version,
		Downloads: -1, // the JSON API stopped serving counts years ago
	}
	if doc.Info.Yanked {
		md.Deprecated = doc.Info.YankedReason
		if md.Deprecated == "" {
			md.Deprecated = "yanked"
		}
	}
	for _, a := range []string{doc.Info.Author, doc.Info.Maintainer} {
		if a != "" {
			md.Maintainers = append(md.Maintainers, a)
		}
	}
	if len(doc.Info.RequiresDist) != 0 {
		md.Dependencies = make(map[string]string, len(doc.Info.RequiresDist))
		for _, rd := range doc.Info.RequiresDist {
			name, spec := splitRequiresDist(rd)
			if name != "" {
				md.Dependencies[name] = spec
			}
		}
	}
	for _, f := range doc.URLs {
		if ts, err := time.Parse(time.RFC3339, f.UploadTime); err == nil {
			if md.PublishedAt.IsZero() || ts.Before(md.PublishedAt) {
				md.PublishedAt = ts
			}
		}
	}
	return &md, nil
}

func decodePyPIProject(b []byte) (*History, error) {
	var doc pypiProject
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	h := History{
		Name:   doc.Info.Name,
		Latest: doc.Info.Version,
	}
	for _, a := range []string{doc.Info.Author, doc.Info.Maintainer} {
		if a != "" {
			h.Maintainers = append(h.Maintainers, a)
		}
	}
	for ver, files := range doc.Releases {
		rel := Release{Version: ver}
		for _, f := range files {
			if ts, err := time.Parse(time.RFC3339, f.UploadTime); err == nil {
				if rel.ReleasedAt.IsZero() || ts.Before(rel.ReleasedAt) {
					rel.ReleasedAt = ts
				}
			}
		}
		h.Releases = append(h.Releases, rel)
		if !rel.ReleasedAt.IsZero() && (h.FirstPublished.IsZero() || rel.ReleasedAt.Before(h.FirstPublished)) {
			h.FirstPublished = rel.ReleasedAt
		}
	}
	sort.Slice(h.Releases, func(i, j int) bool {
		return h.Releases[i].ReleasedAt.Before(h.Releases[j].ReleasedAt)
	})
	return &h, nil
}

// splitRequiresDist splits a requires_dist entry ("requests (>=2.0) ; extra
// == 'x'") into name and specifier.
func splitRequiresDist(s string) (name, spec string) {
	if i := strings.IndexByte(s, ';'); i != -1 {
		s = s[:i]
	}
	for i, r := range s {
		if r == ' ' || r == '(' || r == '=' || r == '<' || r == '>' || r == '!' || r == '~' || r == '[' {
			name = s[:i]
			spec = trimSpec(s[i:])
			return name, spec
		}
	}
	return s, ""
}

func trimSpec(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '(', ')', ' ', '[', ']':
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
