package risk

import "strings"

// Recommendation messages.
const (
	RecommendationReassure = "Student appears to be performing well. Continue standard monitoring."
	RecommendationUrgent   = "Immediate intervention recommended. Student showing multiple risk factors."
	RecommendationCheckIn  = "Schedule check-in with student within 1 week to address concerns."
	RecommendationMonitor  = "Monitor closely and consider reaching out to offer support."

	urgentWithConcernsPrefix = "Immediate intervention recommended. Primary concerns: "
	maxNamedConcerns         = 2
)

// Recommend picks an intervention message for the risk score.
func (e *Engine) Recommend(risk float64, factors []Factor) string {
	bands := e.cfg.Bands

	if risk < bands.Reassure {
		return RecommendationReassure
	}

	if risk > bands.High {
		concerns := make([]string, 0, maxNamedConcerns)
		for _, factor := range factors {
			if factor.Severity != SeverityHigh {
				continue
			}
			concerns = append(concerns, factor.Name)
			if len(concerns) == maxNamedConcerns {
				break
			}
		}
		if len(concerns) > 0 {
			return urgentWithConcernsPrefix + strings.Join(concerns, ", ")
		}
		return RecommendationUrgent
	}

	if risk > bands.AtRisk {
		return RecommendationCheckIn
	}

	return RecommendationMonitor
}
