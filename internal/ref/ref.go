// Package ref turns free-form user references into canonical branch names
// and filesystem-safe slugs.
//
// Branch names keep hierarchy ("feat/login"); slugs flatten it
// ("feat--login") and are only ever used for directory and window names.
package ref

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Source records how a branch name was derived from the user's reference.
type Source string

const (
	SourceScratch       Source = "scratch"
	SourceStoryFallback Source = "story-fallback"
	SourceBranch        Source = "branch"
)

// Resolution is the canonical branch for a reference.
type Resolution struct {
	Branch string
	Source Source
}

var (
	refsHeadsPrefix = regexp.MustCompile(`^refs/heads/`)
	whitespace      = regexp.MustCompile(`\s+`)
	unsafeBranch    = regexp.MustCompile(`[^A-Za-z0-9._/-]+`)
	repeatedSlash   = regexp.MustCompile(`/{2,}`)
	edgeDashes      = regexp.MustCompile(`^-+|-+$`)
	pathSeparators  = regexp.MustCompile(`[/\\]+`)
	unsafeSlug      = regexp.MustCompile(`[^A-Za-z0-9._/\\-]+`)
	repeatedDash    = regexp.MustCompile(`-+`)
	numericRef      = regexp.MustCompile(`^\d+$`)
	storyURL        = regexp.MustCompile(`(?i)shortcut\.com/[^/\s]+/story/(\d+)`)
	unsafeSegment   = regexp.MustCompile(`[^a-z0-9._-]+`)
)

// Named prefixes map to a branch namespace: "story:login" -> story/login.
var namedPrefixes = []struct {
	prefix string
	source Source
}{
	{"story:", SourceBranch},
	{"scratch:", SourceScratch},
}

// Resolve maps a reference to a branch:
//   - empty input yields a random scratch branch wt/<8 hex>
//   - story:<name> and scratch:<name> yield story/<name> and scratch/<name>
//   - a story number or story URL yields sc-<digits>
//   - anything else is sanitized
func Resolve(input string) Resolution {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Resolution{Branch: "wt/" + RandomHex(), Source: SourceScratch}
	}
	for _, p := range namedPrefixes {
		if len(trimmed) < len(p.prefix) || !strings.EqualFold(trimmed[:len(p.prefix)], p.prefix) {
			continue
		}
		name := strings.Trim(strings.TrimSpace(trimmed[len(p.prefix):]), "/")
		if name == "" {
			return Resolution{Branch: "wt/" + RandomHex(), Source: SourceScratch}
		}
		namespace := strings.TrimSuffix(p.prefix, ":")
		return Resolution{Branch: SanitizeBranch(namespace + "/" + name), Source: p.source}
	}
	if id, ok := StoryID(trimmed); ok {
		return Resolution{Branch: "sc-" + id, Source: SourceStoryFallback}
	}
	return Resolution{Branch: SanitizeBranch(trimmed), Source: SourceBranch}
}

// StoryID extracts a ticket number from a purely numeric reference or a
// story URL.
func StoryID(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if numericRef.MatchString(trimmed) {
		return trimmed, true
	}
	if m := storyURL.FindStringSubmatch(trimmed); m != nil {
		return m[1], true
	}
	return "", false
}

// SanitizeBranch reduces raw to characters in [A-Za-z0-9._/-]. The result
// is never empty.
func SanitizeBranch(raw string) string {
	s := strings.TrimSpace(raw)
	s = refsHeadsPrefix.ReplaceAllString(s, "")
	s = whitespace.ReplaceAllString(s, "-")
	s = unsafeBranch.ReplaceAllString(s, "-")
	s = repeatedSlash.ReplaceAllString(s, "/")
	s = edgeDashes.ReplaceAllString(s, "")
	if s == "" {
		return "wt/" + RandomHex()
	}
	return s
}

// Slug derives a lower-case directory-leaf name from a branch. It is never
// empty.
func Slug(branch string) string {
	s := strings.TrimSpace(branch)
	s = refsHeadsPrefix.ReplaceAllString(s, "")
	s = unsafeSlug.ReplaceAllString(s, "-")
	s = repeatedDash.ReplaceAllString(s, "-")
	// Separators become "--" after dash collapsing so the hierarchy stays
	// visible in the flattened name.
	s = pathSeparators.ReplaceAllString(s, "--")
	s = edgeDashes.ReplaceAllString(s, "")
	s = strings.ToLower(s)
	if s == "" {
		return "wt-" + RandomHex()
	}
	return s
}

// SlugSegment lower-cases a single name segment such as a repository
// directory name. Empty results become "repo".
func SlugSegment(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	s = unsafeSegment.ReplaceAllString(s, "-")
	s = repeatedDash.ReplaceAllString(s, "-")
	s = edgeDashes.ReplaceAllString(s, "")
	if s == "" {
		return "repo"
	}
	return s
}

// RandomHex returns 8 random lower-case hex characters.
func RandomHex() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}
