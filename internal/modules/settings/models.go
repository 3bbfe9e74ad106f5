package settings

// SettingUpdate is the request body for updating a single setting.
type SettingUpdate struct {
	Value interface{} `json:"value"`
}

// Setting keys recognized by the service. Unknown keys are stored as-is but
// skip validation.
const (
	KeyIonQAPIKey     = "ionq_api_key"
	KeyIonQTarget     = "ionq_target"
	KeyDefaultShots   = "default_shots"
	KeyHardwareShots  = "hardware_shots"
	KeyDriftThreshold = "drift_threshold"
	KeyPrepJitterStd  = "noise_prep_jitter_std"
	KeyReadoutFlip01  = "noise_readout_flip_01"
	KeyReadoutFlip10  = "noise_readout_flip_10"
)

// TargetResponse is the response body for the current hardware target.
type TargetResponse struct {
	Target string `json:"target"`
}

// TargetUpdateResponse reports a target switch.
type TargetUpdateResponse struct {
	Target         string `json:"target"`
	PreviousTarget string `json:"previous_target"`
}
