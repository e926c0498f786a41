package dnc

import "time"

// PolicyConfiguration holds the global toggles consulted by every decision.
type PolicyConfiguration struct {
	CheckingEnabled  bool      `json:"enable_checking"`
	BlockingEnabled  bool      `json:"block_contacts"`
	AutoCheckEnabled bool      `json:"auto_check"`
	OverridesAllowed bool      `json:"allow_overrides"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DefaultPolicy is the configuration created on first access.
func DefaultPolicy() PolicyConfiguration {
	return PolicyConfiguration{
		CheckingEnabled:  true,
		BlockingEnabled:  true,
		AutoCheckEnabled: true,
		OverridesAllowed: false,
	}
}

// PolicyPatch is a partial update; nil fields are left unchanged.
type PolicyPatch struct {
	CheckingEnabled  *bool `json:"enable_checking,omitempty"`
	BlockingEnabled  *bool `json:"block_contacts,omitempty"`
	AutoCheckEnabled *bool `json:"auto_check,omitempty"`
	OverridesAllowed *bool `json:"allow_overrides,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p PolicyPatch) IsEmpty() bool {
	return p.CheckingEnabled == nil && p.BlockingEnabled == nil &&
		p.AutoCheckEnabled == nil && p.OverridesAllowed == nil
}

// Apply returns a copy of cfg with the patch applied.
func (p PolicyPatch) Apply(cfg PolicyConfiguration, now time.Time) PolicyConfiguration {
	if p.CheckingEnabled != nil {
		cfg.CheckingEnabled = *p.CheckingEnabled
	}
	if p.BlockingEnabled != nil {
		cfg.BlockingEnabled = *p.BlockingEnabled
	}
	if p.AutoCheckEnabled != nil {
		cfg.AutoCheckEnabled = *p.AutoCheckEnabled
	}
	if p.OverridesAllowed != nil {
		cfg.OverridesAllowed = *p.OverridesAllowed
	}
	cfg.UpdatedAt = now.UTC()
	return cfg
}
