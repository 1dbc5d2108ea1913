package config

// Approval modes. The matrix of gate behavior per sensitivity lives in
// internal/approval.
const (
	ApprovalModeDefault  = "default"
	ApprovalModeAutoEdit = "autoEdit"
	ApprovalModeYolo     = "yolo"
)

// ApprovalConfig configures the approval gate and permission policy.
type ApprovalConfig struct {
	Mode string `yaml:"mode"` // default | autoEdit | yolo

	// SensitivityOverrides remaps tool name -> low|medium|high.
	SensitivityOverrides map[string]string `yaml:"sensitivity_overrides"`

	// Permission policy for constrained agents.
	AllowedTools []string `yaml:"allowed_tools"`
	DeniedTools  []string `yaml:"denied_tools"`
	ReadOnly     bool     `yaml:"read_only"`
	AllowNetwork bool     `yaml:"allow_network"`
}

// DefaultApprovalConfig returns sensible defaults.
func DefaultApprovalConfig() ApprovalConfig {
	return ApprovalConfig{
		Mode:         ApprovalModeDefault,
		AllowNetwork: true,
	}
}

func validApprovalMode(mode string) bool {
	switch mode {
	case ApprovalModeDefault, ApprovalModeAutoEdit, ApprovalModeYolo:
		return true
	}
	return false
}
