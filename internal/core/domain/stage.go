package domain

// =============================================================================
// Stage Names
// =============================================================================

// StageName identifies one step of the release pipeline.
type StageName string

const (
	StageBuild   StageName = "BUILD"
	StagePackage StageName = "PACKAGE"
	StageDeploy  StageName = "DEPLOY"
	StageVerify  StageName = "VERIFY"
)

// FullPipeline is the complete stage order executed by a full run.
var FullPipeline = []StageName{StageBuild, StagePackage, StageDeploy, StageVerify}

// IsValid reports whether s is one of the known stages.
func (s StageName) IsValid() bool {
	switch s {
	case StageBuild, StagePackage, StageDeploy, StageVerify:
		return true
	}
	return false
}

// RequiresEnvironment reports whether the stage resolves parameters from a
// target environment. Build and Package are environment independent.
func (s StageName) RequiresEnvironment() bool {
	return s == StageDeploy || s == StageVerify
}

// =============================================================================
// Stage Status
// =============================================================================

// StageStatus is the outcome attached to an action record.
//
// StatusFailed is a clean negative result (nonzero exit code, unhealthy
// response). StatusError is an exceptional failure (the process could not be
// launched, the environment is unknown). Both end the stage.
type StageStatus string

const (
	StatusStarting StageStatus = "STARTING"
	StatusSuccess  StageStatus = "SUCCESS"
	StatusFailed   StageStatus = "FAILED"
	StatusRetrying StageStatus = "RETRYING"
	StatusError    StageStatus = "ERROR"
)
