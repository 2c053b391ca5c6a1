package tonal

import (
	"sort"

	"gopkg.in/music-theory.v0/key"

	"github.com/zarigata/MP3paraMIDI/algorithms/common"
)

// KeyProfile selects the pitch class profile used for correlation
type KeyProfile int

const (
	KeyProfileKrumhansl KeyProfile = iota
	KeyProfileTemperley
)

// KeyMode represents major or minor mode
type KeyMode int

const (
	KeyModeMajor KeyMode = iota
	KeyModeMinor
)

// String returns the mode name
func (m KeyMode) String() string {
	if m == KeyModeMinor {
		return "minor"
	}
	return "major"
}

// KeyProfileTemplate contains the major and minor templates of a profile
type KeyProfileTemplate struct {
	MajorProfile []float64 `json:"major_profile"`
	MinorProfile []float64 `json:"minor_profile"`
}

// KeyCandidate represents a candidate key with its correlation score
type KeyCandidate struct {
	Key        key.Key `json:"key"`
	KeyName    string  `json:"key_name"`
	Mode       KeyMode `json:"mode"`
	Confidence float64 `json:"confidence"`
}

// KeyEstimationResult contains the winning key and runner-up candidates
type KeyEstimationResult struct {
	Key        key.Key        `json:"key"`
	KeyName    string         `json:"key_name"`
	Mode       KeyMode        `json:"mode"`
	Confidence float64        `json:"confidence"`
	Candidates []KeyCandidate `json:"candidates"`
}

// KeyEstimationParams contains parameters for key estimation
type KeyEstimationParams struct {
	Profile       KeyProfile `json:"profile"`
	MaxCandidates int        `json:"max_candidates"`
}

// KeyEstimator estimates the musical key of a pitch class distribution by
// correlating it against major and minor key profiles in all 12 rotations.
//
// Reference: Krumhansl, C.L. (1990). "Cognitive Foundations of Musical Pitch"
type KeyEstimator struct {
	params   KeyEstimationParams
	profiles map[KeyProfile]*KeyProfileTemplate
}

var keyNoteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NewKeyEstimator creates a key estimator with the Krumhansl-Kessler profiles
func NewKeyEstimator() *KeyEstimator {
	return NewKeyEstimatorWithParams(KeyEstimationParams{
		Profile:       KeyProfileKrumhansl,
		MaxCandidates: 3,
	})
}

// NewKeyEstimatorWithParams creates a key estimator with custom parameters
func NewKeyEstimatorWithParams(params KeyEstimationParams) *KeyEstimator {
	ke := &KeyEstimator{
		params:   params,
		profiles: make(map[KeyProfile]*KeyProfileTemplate),
	}
	ke.initializeKeyProfiles()
	return ke
}

// initializeKeyProfiles initializes the key profile templates
func (ke *KeyEstimator) initializeKeyProfiles() {
	// Krumhansl-Schmuckler profiles (empirically derived)
	ke.profiles[KeyProfileKrumhansl] = &KeyProfileTemplate{
		MajorProfile: []float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88},
		MinorProfile: []float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17},
	}

	// Temperley profiles (music theory based)
	ke.profiles[KeyProfileTemperley] = &KeyProfileTemplate{
		MajorProfile: []float64{5.0, 2.0, 3.5, 2.0, 4.5, 4.0, 2.0, 4.5, 2.0, 3.5, 1.5, 4.0},
		MinorProfile: []float64{5.0, 2.0, 3.5, 4.5, 2.0, 4.0, 2.0, 4.5, 3.5, 2.0, 1.5, 4.0},
	}
}

// EstimateFromPitchClasses estimates the key of a 12-bin pitch class
// distribution (index 0 = C). Returns a zero-confidence result when the
// distribution is empty or flat.
func (ke *KeyEstimator) EstimateFromPitchClasses(distribution []float64) KeyEstimationResult {
	if len(distribution) != 12 {
		return KeyEstimationResult{Candidates: []KeyCandidate{}}
	}

	total := 0.0
	for _, v := range distribution {
		total += v
	}
	if total == 0 {
		return KeyEstimationResult{Candidates: []KeyCandidate{}}
	}

	profile := ke.profiles[ke.params.Profile]
	if profile == nil {
		profile = ke.profiles[KeyProfileKrumhansl]
	}

	candidates := make([]KeyCandidate, 0, 24)

	// Test all 24 keys (12 major + 12 minor)
	for root := range 12 {
		noteName := keyNoteNames[root]

		majorCorr := common.Correlation(distribution, shiftProfile(profile.MajorProfile, root))
		candidates = append(candidates, KeyCandidate{
			Key:        key.Of(noteName + " major"),
			KeyName:    noteName + " major",
			Mode:       KeyModeMajor,
			Confidence: majorCorr,
		})

		minorCorr := common.Correlation(distribution, shiftProfile(profile.MinorProfile, root))
		candidates = append(candidates, KeyCandidate{
			Key:        key.Of(noteName + " minor"),
			KeyName:    noteName + " minor",
			Mode:       KeyModeMinor,
			Confidence: minorCorr,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	limit := ke.params.MaxCandidates
	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}

	best := candidates[0]

	return KeyEstimationResult{
		Key:        best.Key,
		KeyName:    best.KeyName,
		Mode:       best.Mode,
		Confidence: best.Confidence,
		Candidates: candidates[:limit],
	}
}

// shiftProfile rotates a profile so index 0 aligns with the given root
func shiftProfile(profile []float64, root int) []float64 {
	shifted := make([]float64, 12)
	for i := range 12 {
		shifted[i] = profile[(i-root+12)%12]
	}
	return shifted
}
