package settings

import (
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/arclab/arcq/internal/backends"
)

// Service validates and applies setting updates on top of the repository.
type Service struct {
	repo *Repository
	log  zerolog.Logger
}

// NewService creates a new settings service.
func NewService(repo *Repository, log zerolog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With().Str("service", "settings").Logger(),
	}
}

// GetAll returns all stored settings.
func (s *Service) GetAll() (map[string]string, error) {
	return s.repo.GetAll()
}

// Set validates and stores a setting. The boolean result reports whether
// this was the first time gateway credentials were configured, so callers
// can trigger a backend refresh.
func (s *Service) Set(key string, value interface{}) (bool, error) {
	strVal := stringify(value)

	if err := s.validate(key, strVal); err != nil {
		return false, err
	}

	isFirstCredential := false
	if key == KeyIonQAPIKey && strVal != "" {
		existing, err := s.repo.Get(KeyIonQAPIKey)
		if err != nil {
			return false, err
		}
		isFirstCredential = existing == nil || *existing == ""
	}

	if err := s.repo.Set(key, strVal, nil); err != nil {
		return false, err
	}

	s.log.Info().Str("key", key).Msg("Setting updated")
	return isFirstCredential, nil
}

// Target returns the configured hardware target, defaulting to the
// simulator when unset.
func (s *Service) Target() (string, error) {
	value, err := s.repo.Get(KeyIonQTarget)
	if err != nil {
		return "", err
	}
	if value == nil || *value == "" {
		return "simulator", nil
	}
	return *value, nil
}

// SetTarget switches the hardware target and returns the previous one.
func (s *Service) SetTarget(target string) (previous string, err error) {
	if err := validateTarget(target); err != nil {
		return "", err
	}

	previous, err = s.Target()
	if err != nil {
		return "", err
	}

	if err := s.repo.Set(KeyIonQTarget, target, nil); err != nil {
		return "", err
	}

	s.log.Info().
		Str("previous_target", previous).
		Str("new_target", target).
		Msg("Hardware target switched")
	return previous, nil
}

// DefaultShots returns the simulator shot count.
func (s *Service) DefaultShots(fallback int) (int, error) {
	return s.repo.GetInt(KeyDefaultShots, fallback)
}

// HardwareShots returns the per-job hardware shot count.
func (s *Service) HardwareShots(fallback int) (int, error) {
	return s.repo.GetInt(KeyHardwareShots, fallback)
}

// DriftThreshold returns the calibration drift alert threshold.
func (s *Service) DriftThreshold(fallback float64) (float64, error) {
	return s.repo.GetFloat(KeyDriftThreshold, fallback)
}

// validate rejects values that would break runs at submission time.
// Unknown keys pass through unvalidated.
func (s *Service) validate(key, value string) error {
	switch key {
	case KeyIonQTarget:
		return validateTarget(value)
	case KeyDefaultShots, KeyHardwareShots:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, value)
		}
	case KeyDriftThreshold:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f <= 0 {
			return fmt.Errorf("%s must be a positive number, got %q", key, value)
		}
	case KeyPrepJitterStd, KeyReadoutFlip01, KeyReadoutFlip10:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 || f > 1 {
			return fmt.Errorf("%s must be in [0, 1], got %q", key, value)
		}
	}
	return nil
}

func validateTarget(target string) error {
	for _, known := range backends.KnownTargets() {
		if target == known {
			return nil
		}
	}
	return fmt.Errorf("unknown target %q (known: %v)", target, backends.KnownTargets())
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		// JSON numbers decode as float64; keep integers clean.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}
