package domain

// CPUMode selects how the guest CPU model is derived.
type CPUMode string

const (
	CPUModeCustom          CPUMode = "custom"
	CPUModeHostPassthrough CPUMode = "host-passthrough"
	CPUModeHostModel       CPUMode = "host-model"
	CPUModeMaximum         CPUMode = "maximum"
)

// FeaturePolicy is how an explicit CPU feature is applied.
type FeaturePolicy string

const (
	FeatureRequire  FeaturePolicy = "require"
	FeatureForce    FeaturePolicy = "force"
	FeatureDisable  FeaturePolicy = "disable"
	FeatureForbid   FeaturePolicy = "forbid"
	FeatureOptional FeaturePolicy = "optional"
)

// CPU describes the vCPU model, topology and features.
type CPU struct {
	Mode       CPUMode      `json:"mode,omitempty"`
	Model      string       `json:"model,omitempty"`
	Fallback   bool         `json:"fallback,omitempty"`
	Vendor     string       `json:"vendor,omitempty"`
	Migratable *bool        `json:"migratable,omitempty"`
	Features   []CPUFeature `json:"features,omitempty"`
	VCPUs      uint         `json:"vcpus,omitempty"`
	MaxVCPUs   uint         `json:"maxVcpus,omitempty"`
	Topology   *Topology    `json:"topology,omitempty"`
}

// CPUFeature is one explicit +feature / -feature.
type CPUFeature struct {
	Name   string        `json:"name"`
	Policy FeaturePolicy `json:"policy,omitempty"`
}

// Enabled reports whether the feature is turned on in the guest.
func (f CPUFeature) Enabled() bool {
	return f.Policy != FeatureDisable && f.Policy != FeatureForbid
}

// Topology is the vCPU layout.
type Topology struct {
	Sockets uint `json:"sockets"`
	Dies    uint `json:"dies,omitempty"`
	Cores   uint `json:"cores"`
	Threads uint `json:"threads"`
}

// KVMFeatures are KVM paravirt toggles.
type KVMFeatures struct {
	Hidden        bool  `json:"hidden,omitempty"`
	HintDedicated *bool `json:"hintDedicated,omitempty"`
	PollControl   *bool `json:"pollControl,omitempty"`
	PVIPI         *bool `json:"pvIpi,omitempty"`
}

// HyperVFeatures are Hyper-V enlightenments.
type HyperVFeatures struct {
	Relaxed         *bool  `json:"relaxed,omitempty"`
	VAPIC           *bool  `json:"vapic,omitempty"`
	Spinlocks       *bool  `json:"spinlocks,omitempty"`
	SpinlockRetries uint   `json:"spinlockRetries,omitempty"`
	VPIndex         *bool  `json:"vpindex,omitempty"`
	Runtime         *bool  `json:"runtime,omitempty"`
	Synic           *bool  `json:"synic,omitempty"`
	STimer          *bool  `json:"stimer,omitempty"`
	STimerDirect    *bool  `json:"stimerDirect,omitempty"`
	Reset           *bool  `json:"reset,omitempty"`
	VendorID        string `json:"vendorId,omitempty"`
	Frequencies     *bool  `json:"frequencies,omitempty"`
	Reenlightenment *bool  `json:"reenlightenment,omitempty"`
	TLBFlush        *bool  `json:"tlbflush,omitempty"`
	IPI             *bool  `json:"ipi,omitempty"`
	EVMCS           *bool  `json:"evmcs,omitempty"`
}
