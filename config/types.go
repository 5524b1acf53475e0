package config

// Pauses lists the modules an operator can freeze independently of the
// campaign lifecycle. Flags set here are applied once at startup.
type Pauses struct {
	Sale  bool
	Token bool
	Funds bool
}

// Quota defines rate limits for contribution submissions on a per-address
// basis.
type Quota struct {
	MaxRequestsPerMin uint32
	MaxUSDQPerEpoch   uint64 // in campaign base units
	EpochSeconds      uint32 // e.g., 3600
}

// Quotas groups quotas for each module.
type Quotas struct {
	Sale Quota
}

// Global bundles the runtime configuration values enforced by ValidateConfig.
type Global struct {
	Pauses Pauses
	Quotas Quotas
}
