package models

type Component string

const (
	ComponentFN Component = "FN"
	ComponentFP Component = "FP"
)

// GroundMotionRecord is one catalogued two-component acceleration record.
type GroundMotionRecord struct {
	ID     string  `json:"id"`
	FNPath string  `json:"fn_path"`
	FPPath string  `json:"fp_path"`
	DT     float64 `json:"dt"`
}

// AnalysisSample is one backend run at one intensity level.
type AnalysisSample struct {
	GMID        string  `json:"gm_id"`
	Level       int     `json:"level"`
	TargetPGA   float64 `json:"target_pga"`
	ScaleFactor float64 `json:"scale_factor"`
	MaxDrift    float64 `json:"max_idr"`
	Converged   bool    `json:"converged"`
	Collapsed   bool    `json:"collapsed"`
}
