package sttloop

import "os"

// ProfileEnvVar selects the active transcription profile by name; an
// unset or unrecognized value falls back to DefaultProfileName.
const ProfileEnvVar = "CTXLENS_STT_PROFILE"

// DefaultProfileName is used when ProfileEnvVar is unset or unknown.
const DefaultProfileName = "current_default"

// Profile bundles the VAD and streaming knobs for one named tuning, per
// spec §4.11. Profiles differ only in these numbers and in the STT
// model size; everything else about the loop's behavior is fixed.
type Profile struct {
	Name                    string
	VADEnergyThreshold      float64
	VADSilenceDurationS     float64
	VADBufferDurationS      float64
	MinWordsPerSentence     int
	StreamingChunkDurationS float64
	StreamingOverlapS       float64
	StreamingMinBufferS     float64
	HeartbeatIntervalS      float64
	ModelSize               string
}

// profiles enumerates the supported tunings. current_default carries
// the exact numbers named in the spec; the others trade latency for
// accuracy in either direction.
var profiles = map[string]Profile{
	"ultra_responsive": {
		Name:                    "ultra_responsive",
		VADEnergyThreshold:      0.005,
		VADSilenceDurationS:     0.5,
		VADBufferDurationS:      0.3,
		MinWordsPerSentence:     1,
		StreamingChunkDurationS: 1.5,
		StreamingOverlapS:       0.25,
		StreamingMinBufferS:     1.0,
		HeartbeatIntervalS:      3.0,
		ModelSize:               "tiny",
	},
	"balanced_fast": {
		Name:                    "balanced_fast",
		VADEnergyThreshold:      0.0045,
		VADSilenceDurationS:     0.8,
		VADBufferDurationS:      0.4,
		MinWordsPerSentence:     1,
		StreamingChunkDurationS: 2.0,
		StreamingOverlapS:       0.4,
		StreamingMinBufferS:     1.5,
		HeartbeatIntervalS:      4.0,
		ModelSize:               "tiny",
	},
	"optimized_default": {
		Name:                    "optimized_default",
		VADEnergyThreshold:      0.004,
		VADSilenceDurationS:     0.9,
		VADBufferDurationS:      0.5,
		MinWordsPerSentence:     1,
		StreamingChunkDurationS: 2.5,
		StreamingOverlapS:       0.5,
		StreamingMinBufferS:     1.8,
		HeartbeatIntervalS:      5.0,
		ModelSize:               "base",
	},
	"current_default": {
		Name:                    "current_default",
		VADEnergyThreshold:      0.004,
		VADSilenceDurationS:     1.0,
		VADBufferDurationS:      0.5,
		MinWordsPerSentence:     1,
		StreamingChunkDurationS: 3.0,
		StreamingOverlapS:       0.5,
		StreamingMinBufferS:     2.0,
		HeartbeatIntervalS:      5.0,
		ModelSize:               "base",
	},
	"high_accuracy": {
		Name:                    "high_accuracy",
		VADEnergyThreshold:      0.003,
		VADSilenceDurationS:     1.5,
		VADBufferDurationS:      0.7,
		MinWordsPerSentence:     1,
		StreamingChunkDurationS: 4.0,
		StreamingOverlapS:       0.75,
		StreamingMinBufferS:     3.0,
		HeartbeatIntervalS:      6.0,
		ModelSize:               "small",
	},
	"streaming_optimized": {
		Name:                    "streaming_optimized",
		VADEnergyThreshold:      0.004,
		VADSilenceDurationS:     0.9,
		VADBufferDurationS:      0.5,
		MinWordsPerSentence:     1,
		StreamingChunkDurationS: 1.0,
		StreamingOverlapS:       0.25,
		StreamingMinBufferS:     1.0,
		HeartbeatIntervalS:      2.0,
		ModelSize:               "base",
	},
}

// ProfileByName looks up a profile, falling back to current_default.
func ProfileByName(name string) Profile {
	if p, ok := profiles[name]; ok {
		return p
	}
	return profiles[DefaultProfileName]
}

// ProfileFromEnv selects the profile named by ProfileEnvVar.
func ProfileFromEnv() Profile {
	return ProfileByName(os.Getenv(ProfileEnvVar))
}
