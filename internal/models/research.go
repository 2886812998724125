package models

// ResearchReport captures deeper-context findings mined from the history
// window: recurrence, host stability and the temporal neighbourhood of the
// event under analysis. It feeds both the inference prompt and the
// deterministic fallback.
type ResearchReport struct {
	// Recurring is set when the trigger has fired repeatedly in the window.
	Recurring   bool
	Occurrences int

	// Stability scores the host/trigger pair in [0,1]; 1 means every problem
	// recovered and recurrence is low.
	Stability float64

	// Precursors and Followers are event IDs observed before and after the
	// analyzed event inside the window.
	Precursors []string
	Followers  []string

	Findings []string
}
