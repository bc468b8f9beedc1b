// Package sidecar reads acquisition metadata from the JSON description files
// that accompany images in the dataset. Absent or malformed metadata never
// fails a task: every field resolves to a documented default instead.
package sidecar

import (
	"encoding/json"
	"os"

	"github.com/kingrea/unwarp/internal/dataset"
	"github.com/kingrea/unwarp/internal/logging"
)

// DefaultReadoutTime is assumed when the auxiliary sidecar does not carry a
// usable TotalReadoutTime. The substitution is logged so operators can tell
// measured timing from the fallback.
const DefaultReadoutTime = 0.050

// Metadata is the typed view of a sidecar file. Pointer fields distinguish
// "absent" from zero values.
type Metadata struct {
	TotalReadoutTime       *float64 `json:"TotalReadoutTime"`
	PhaseEncodingDirection *string  `json:"PhaseEncodingDirection"`
}

// Load reads the sidecar paired with imagePath (same stem, .json extension).
// A missing or unparseable sidecar yields empty Metadata, not an error.
func Load(imagePath string) Metadata {
	path := dataset.ImageStem(imagePath) + ".json"
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}
	}
	return meta
}

// Params are the fully populated acquisition parameters handed to the
// correction engine. Defaults never leave them empty.
type Params struct {
	// ReadoutTime in seconds, always positive.
	ReadoutTime float64
	// PhaseEncodeIndex selects the acquisition-parameter table row matching
	// the primary series' polarity: 1 for j-, 2 for j.
	PhaseEncodeIndex int
}

// Extract derives Params for one task.
//
// ReadoutTime comes from the auxiliary-A sidecar when present and positive,
// otherwise DefaultReadoutTime. PhaseEncodeIndex follows strict precedence:
// an operator override, then the primary sidecar's direction, then index 1.
func Extract(primaryPath, auxAPath, override string, log *logging.Logger) Params {
	params := Params{ReadoutTime: DefaultReadoutTime, PhaseEncodeIndex: 1}

	auxMeta := Load(auxAPath)
	if auxMeta.TotalReadoutTime != nil && *auxMeta.TotalReadoutTime > 0 {
		params.ReadoutTime = *auxMeta.TotalReadoutTime
	} else {
		log.Printf("sidecar: %s has no usable TotalReadoutTime, defaulting to %.3f s", auxAPath, DefaultReadoutTime)
	}

	if idx, ok := indexForDirection(override); ok {
		params.PhaseEncodeIndex = idx
		return params
	}
	primaryMeta := Load(primaryPath)
	if primaryMeta.PhaseEncodingDirection != nil {
		if idx, ok := indexForDirection(*primaryMeta.PhaseEncodingDirection); ok {
			params.PhaseEncodeIndex = idx
		} else {
			log.Printf("sidecar: %s has unrecognized PhaseEncodingDirection %q, using index 1", primaryPath, *primaryMeta.PhaseEncodingDirection)
		}
	}
	return params
}

// indexForDirection maps a phase-encoding direction onto a table row.
func indexForDirection(dir string) (int, bool) {
	switch dir {
	case "j-":
		return 1, true
	case "j":
		return 2, true
	default:
		return 0, false
	}
}
