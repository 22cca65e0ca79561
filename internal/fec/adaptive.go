package fec

import (
	"errors"
	"sync"
	"time"
)

var errInvalidParityShards = errors.New("fec: invalid number of parity shards")

// PolicyState is a snapshot of the adaptive policy's current decision.
type PolicyState struct {
	Enabled   bool
	Profile   Profile
	LossRate  float64
	UpdatedAt time.Time
}

// PolicyConfig configures an AdaptivePolicy's thresholds.
type PolicyConfig struct {
	EnableThreshold  float64       // loss rate %% to enable FEC
	DisableThreshold float64       // loss rate %% to disable FEC
	MinObservation   time.Duration // minimum time between state changes
	DefaultK         int
	DefaultR         int
	MaxR             int
}

// DefaultPolicyConfig returns sensible defaults: enable FEC once
// measured loss crosses 1%, disable once it has stayed below 0.5%
// for ten observation windows, starting at an 8:2 data:parity ratio.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		EnableThreshold:  1.0,
		DisableThreshold: 0.5,
		MinObservation:   30 * time.Second,
		DefaultK:         8,
		DefaultR:         2,
		MaxR:             4,
	}
}

// AdaptivePolicy derives a FEC Profile from observed chunk loss rate,
// widening the parity ratio as loss worsens and turning FEC off
// again once the link has been clean for long enough. A transfer
// with no measured loss never pays the parity-shard bandwidth tax.
type AdaptivePolicy struct {
	cfg PolicyConfig

	mu              sync.RWMutex
	enabled         bool
	currentR        int
	lossRateSamples []float64
	lastStateChange time.Time
}

// NewAdaptivePolicy constructs a policy starting disabled at the
// configured default parity ratio.
func NewAdaptivePolicy(cfg PolicyConfig) *AdaptivePolicy {
	return &AdaptivePolicy{
		cfg:             cfg,
		enabled:         false,
		currentR:        cfg.DefaultR,
		lossRateSamples: make([]float64, 0, 60),
		lastStateChange: time.Now(),
	}
}

// Update folds in the latest observed loss-rate sample (percent) and
// re-evaluates whether FEC should be enabled, disabled, or have its
// parity ratio adjusted.
func (p *AdaptivePolicy) Update(lossRatePct float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lossRateSamples = append(p.lossRateSamples, lossRatePct)
	if len(p.lossRateSamples) > 60 {
		p.lossRateSamples = p.lossRateSamples[1:]
	}

	avgLoss := p.emaLossLocked()

	if time.Since(p.lastStateChange) < p.cfg.MinObservation {
		return
	}

	switch {
	case !p.enabled && avgLoss > p.cfg.EnableThreshold:
		p.enabled = true
		p.currentR = p.cfg.DefaultR
		p.lastStateChange = time.Now()
	case p.enabled && avgLoss < p.cfg.DisableThreshold:
		if time.Since(p.lastStateChange) >= p.cfg.MinObservation*10 {
			p.enabled = false
			p.lastStateChange = time.Now()
		}
	case p.enabled:
		switch {
		case avgLoss > 5.0 && p.currentR < p.cfg.MaxR:
			p.currentR = p.cfg.MaxR
			p.lastStateChange = time.Now()
		case avgLoss > 3.0 && p.currentR < 3:
			p.currentR = 3
			p.lastStateChange = time.Now()
		case avgLoss < 2.0 && p.currentR > p.cfg.DefaultR:
			p.currentR = p.cfg.DefaultR
			p.lastStateChange = time.Now()
		}
	}
}

// Profile returns the Profile the policy currently recommends; it
// reports Profile{K: 0} (disabled) when FEC should not be applied.
func (p *AdaptivePolicy) Profile() Profile {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.enabled {
		return Profile{}
	}
	return Profile{K: p.cfg.DefaultK, R: p.currentR}
}

// GetParameters returns the raw enabled flag and K/R the policy
// currently recommends.
func (p *AdaptivePolicy) GetParameters() (enabled bool, k, r int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled, p.cfg.DefaultK, p.currentR
}

// GetState returns a snapshot of the policy's current decision.
func (p *AdaptivePolicy) GetState() PolicyState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PolicyState{
		Enabled:   p.enabled,
		Profile:   Profile{K: p.cfg.DefaultK, R: p.currentR},
		LossRate:  p.emaLossLocked(),
		UpdatedAt: time.Now(),
	}
}

// SetEnabled manually overrides the enabled state.
func (p *AdaptivePolicy) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
	p.lastStateChange = time.Now()
}

// SetParityShards manually overrides the parity shard count.
func (p *AdaptivePolicy) SetParityShards(r int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r < 1 || r > p.cfg.MaxR {
		return errInvalidParityShards
	}
	p.currentR = r
	p.lastStateChange = time.Now()
	return nil
}

// Reset returns the policy to its initial disabled state.
func (p *AdaptivePolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
	p.currentR = p.cfg.DefaultR
	p.lossRateSamples = p.lossRateSamples[:0]
	p.lastStateChange = time.Now()
}

// emaLossLocked computes an exponential moving average (alpha=0.3)
// over the retained loss-rate samples. Callers must hold p.mu.
func (p *AdaptivePolicy) emaLossLocked() float64 {
	if len(p.lossRateSamples) == 0 {
		return 0
	}
	const alpha = 0.3
	ema := p.lossRateSamples[0]
	for _, s := range p.lossRateSamples[1:] {
		ema = alpha*s + (1-alpha)*ema
	}
	return ema
}
