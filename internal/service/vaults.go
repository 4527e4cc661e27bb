// vaults.go - Vault registry and the defensive posture driven by the threat detector.

package service

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"veil/internal/errdefs"
	"veil/internal/quantum"
	"veil/internal/threat"
	"veil/internal/vault"
)

// CreateVault registers a new vault whose time lock starts now.
func (s *Service) CreateVault(required, total uint8, timeLock time.Duration, keys []quantum.PublicKey) (id uuid.UUID, v vault.Vault, err error) {
	defer func(start time.Time) { s.observe("vault_create", start, err) }(time.Now())
	v, err = vault.New(required, total, int64(timeLock/time.Second), keys, s.clock.Now())
	if err != nil {
		return uuid.Nil, vault.Vault{}, err
	}
	id = uuid.New()

	s.mu.Lock()
	s.vaults[id] = v
	s.refreshVaultGaugesLocked()
	s.mu.Unlock()

	s.log.Info("vault created", zap.Stringer("vault_id", id),
		zap.Uint8("required", required), zap.Uint8("total", total), zap.Int64("time_lock_until", v.TimeLockUntil))
	return id, v, nil
}

// Vault returns a registered vault.
func (s *Service) Vault(id uuid.UUID) (vault.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vaults[id]
	if !ok {
		return vault.Vault{}, errdefs.ErrVaultNotFound.Withf("%s", id)
	}
	return v, nil
}

// SubmitVaultSignature applies sig to a vault. Every call counts as a signature attempt
// for threat sampling; while the detector is Critical all submissions are refused.
func (s *Service) SubmitVaultSignature(id uuid.UUID, sig *quantum.Signature) (next vault.Vault, err error) {
	defer func(start time.Time) { s.observe("vault_sign", start, err) }(time.Now())
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sampleAttemptLocked(now)
	if s.detector.ActivateQuantumDefense() {
		return vault.Vault{}, errdefs.ErrQuantumDefenseActive
	}
	v, ok := s.vaults[id]
	if !ok {
		return vault.Vault{}, errdefs.ErrVaultNotFound.Withf("%s", id)
	}
	next, err = v.AddSignature(sig, now, s.verifier)
	if err != nil {
		return v, err
	}
	s.vaults[id] = next
	s.refreshVaultGaugesLocked()
	if next.IsUnlocked() {
		s.audit.Info("vault unlocked", zap.Stringer("vault_id", id), zap.Int64("at", now))
	}
	return next, nil
}

// RecordSignatureAttempt counts an attempt that never reached a vault, such as one
// refused by the rate limiter.
func (s *Service) RecordSignatureAttempt() {
	now := s.clock.Now()
	s.mu.Lock()
	s.sampleAttemptLocked(now)
	s.mu.Unlock()
}

// sampleAttemptLocked closes the attempt window when it has elapsed, analyzes it, and
// counts one more attempt in the current window. An idle gap longer than a window is
// analyzed as a window with no attempts.
func (s *Service) sampleAttemptLocked(now int64) {
	if elapsed := now - s.windowStart; elapsed >= s.window {
		s.analyzeLocked(s.attempts, s.window)
		if elapsed >= 2*s.window {
			s.analyzeLocked(0, s.window)
		}
		s.windowStart = now
		s.attempts = 0
	}
	s.attempts++
}

func (s *Service) analyzeLocked(attempts uint32, window int64) threat.Level {
	prev := s.detector.ThreatLevel
	level := s.detector.AnalyzePattern(attempts, window)
	s.metrics.SetThreatLevel(uint8(level))
	if level != prev {
		s.log.Warn("threat level changed", zap.Stringer("from", prev), zap.Stringer("to", level),
			zap.Uint32("attempts", attempts), zap.Int64("window", window))
		if level == threat.Critical {
			s.audit.Warn("quantum defense activated", zap.Uint32("attempts", attempts), zap.Int64("window", window))
		} else if prev == threat.Critical {
			s.audit.Info("quantum defense deactivated")
		}
	}
	return level
}

// AnalyzeThreat classifies an externally observed attempt sample.
func (s *Service) AnalyzeThreat(attempts uint32, window int64) threat.Level {
	defer s.observe("threat_analyze", time.Now(), nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzeLocked(attempts, window)
}

// ThreatStatus is a snapshot of the detector.
type ThreatStatus struct {
	Level                  threat.Level `json:"threat_level"`
	SuspiciousPatternCount uint32       `json:"suspicious_pattern_count"`
	LastDetectionTime      int64        `json:"last_detection_time"`
	QuantumDefenseActive   bool         `json:"quantum_defense_active"`
}

func (s *Service) ThreatStatus() ThreatStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ThreatStatus{
		Level:                  s.detector.ThreatLevel,
		SuspiciousPatternCount: s.detector.SuspiciousPatternCount,
		LastDetectionTime:      s.detector.LastDetectionTime,
		QuantumDefenseActive:   s.detector.ActivateQuantumDefense(),
	}
}

func (s *Service) refreshVaultGaugesLocked() {
	counts := map[vault.Status]int{}
	for _, v := range s.vaults {
		counts[v.State.Status]++
	}
	for st := vault.StatusLocked; st <= vault.StatusEmergencyRecovery; st++ {
		s.metrics.SetVaults(st.String(), counts[st])
	}
}
