package models

import "time"

// TimelineBucket is one time slice of event activity for charting.
type TimelineBucket struct {
	Start        time.Time
	Problems     int
	Resolved     int
	PeakSeverity Severity
}

// VisualizationReport is the chart-ready view of one (host, trigger_name)
// history: an event timeline, the severity distribution of problems, and
// recovery totals.
type VisualizationReport struct {
	Host                 string
	TriggerName          string
	Since                time.Time
	BucketSize           time.Duration
	Timeline             []TimelineBucket
	SeverityDistribution map[Severity]int
	TotalProblems        int
	TotalResolved        int
	RecoveryRatio        float64
}
