package config

// Persistent state keys (Registry)
const (
	KeyAlarmSound     = "alarm_sound"
	KeyReferencePhoto = "reference_photo"
	KeyProofThreshold = "proof_threshold"
	KeyProofTolerance = "proof_tolerance"
)
