package generator

// StageName is a strongly-typed identifier for a generation stage.
type StageName string

// Canonical stage names, in execution order.
const (
	StagePrepare    StageName = "prepare"
	StageWalk       StageName = "walk"
	StageAssets     StageName = "assets"
	StageInvalidate StageName = "invalidate"
	StagePipeline   StageName = "pipeline"
	StagePrune      StageName = "prune"
	StageListings   StageName = "listings"
	StagePublish    StageName = "publish"
)

// StageDef pairs a stage name with its executing function.
type StageDef struct {
	Name StageName
	Fn   Stage
}
