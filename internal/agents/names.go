package agents

import "fmt"

// Caller names used in LLM metrics and logs.
const (
	CallerSplitter    = "splitter"
	CallerResearcher  = "researcher"
	CallerSynthesizer = "synthesizer"
	CallerCritic      = "critic"
)

// ResearcherID returns the agent ID for the researcher at zero-based index i.
// IDs are derived from position only so Temporal replays produce the same value.
func ResearcherID(i int) string {
	return fmt.Sprintf("Researcher %d", i+1)
}
