package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// imageExts are the file-extension variants tried for every image, in order.
var imageExts = []string{".nii.gz", ".nii"}

// ResolvedInputs is the outcome of input resolution for one task. Empty
// fields mean "not found" — that is data, not an error; the pipeline turns
// it into a SKIP decision.
type ResolvedInputs struct {
	// Primary is the functional series to be corrected.
	Primary string
	// AuxA and AuxB are the opposed-polarity auxiliary images (AP then PA).
	AuxA string
	AuxB string
	// FmapDir is the directory the auxiliaries were searched in.
	FmapDir string
}

// Complete reports whether every required input was found.
func (r ResolvedInputs) Complete() bool {
	return r.Primary != "" && r.AuxA != "" && r.AuxB != ""
}

// MissingAux names the unresolved auxiliary sides, e.g. ["AP"].
func (r ResolvedInputs) MissingAux() []string {
	var missing []string
	if r.AuxA == "" {
		missing = append(missing, "AP")
	}
	if r.AuxB == "" {
		missing = append(missing, "PA")
	}
	return missing
}

// auxStrategy attempts to locate one auxiliary image. Strategies are pure
// functions tried in order; the first non-empty result wins.
type auxStrategy func(fmapDir string, t Task) string

// Resolver locates a task's primary series and its paired auxiliary images.
type Resolver struct {
	Root string
	// Keyword sets for the fallback scan, matched case-insensitively
	// against filenames in the fmap directory.
	APKeywords []string
	PAKeywords []string
}

// Resolve locates the inputs for one task. Resolution is independent per
// auxiliary direction: either, both, or neither may be found.
func (r *Resolver) Resolve(t Task) ResolvedInputs {
	sessionDir := filepath.Join(r.Root, t.Subject)
	if t.Session != "" {
		sessionDir = filepath.Join(sessionDir, t.Session)
	}
	fmapDir := filepath.Join(sessionDir, "fmap")

	resolved := ResolvedInputs{FmapDir: fmapDir}
	resolved.Primary = firstExisting(filepath.Join(sessionDir, "func", t.Stem()+"_bold"))
	resolved.AuxA = r.resolveAux(fmapDir, t, "AP", r.APKeywords)
	resolved.AuxB = r.resolveAux(fmapDir, t, "PA", r.PAKeywords)
	return resolved
}

func (r *Resolver) resolveAux(fmapDir string, t Task, tag string, keywords []string) string {
	strategies := []auxStrategy{
		canonicalAux(tag),
		keywordScan(keywords),
	}
	for _, strategy := range strategies {
		if path := strategy(fmapDir, t); path != "" {
			return path
		}
	}
	return ""
}

// canonicalAux builds the conventional fmap filename for one direction:
// <sub>[_<ses>]_dir-<TAG>_task-<run>_epi.nii[.gz].
func canonicalAux(tag string) auxStrategy {
	return func(fmapDir string, t Task) string {
		parts := []string{t.Subject}
		if t.Session != "" {
			parts = append(parts, t.Session)
		}
		parts = append(parts, "dir-"+tag, "task-"+t.Run)
		stem := strings.Join(parts, "_") + "_epi"
		return firstExisting(filepath.Join(fmapDir, stem))
	}
}

// keywordScan falls back to scanning the fmap directory for any image whose
// name contains one of the direction's keywords. Among multiple matches the
// shortest filename wins, with the lexically smallest name breaking exact
// length ties, so resolution is deterministic across reruns.
func keywordScan(keywords []string) auxStrategy {
	return func(fmapDir string, t Task) string {
		entries, err := os.ReadDir(fmapDir)
		if err != nil {
			return ""
		}
		var candidates []string
		for _, entry := range entries {
			if entry.IsDir() || !isImage(entry.Name()) {
				continue
			}
			lower := strings.ToLower(entry.Name())
			for _, kw := range keywords {
				if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
					candidates = append(candidates, entry.Name())
					break
				}
			}
		}
		if len(candidates) == 0 {
			return ""
		}
		sort.Slice(candidates, func(i, j int) bool {
			if len(candidates[i]) != len(candidates[j]) {
				return len(candidates[i]) < len(candidates[j])
			}
			return candidates[i] < candidates[j]
		})
		return filepath.Join(fmapDir, candidates[0])
	}
}

// firstExisting tries each image extension against the given path stem.
func firstExisting(stem string) string {
	for _, ext := range imageExts {
		path := stem + ext
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

func isImage(name string) bool {
	for _, ext := range imageExts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// ImageStem strips the image extension from a filename or path.
func ImageStem(path string) string {
	for _, ext := range imageExts {
		if strings.HasSuffix(path, ext) {
			return strings.TrimSuffix(path, ext)
		}
	}
	return path
}
