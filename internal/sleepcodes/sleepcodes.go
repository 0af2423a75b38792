// Package sleepcodes translates Garmin sleep score feedback and insight codes
// into readable explanations.
package sleepcodes

import "sort"

var feedback = map[string]string{
	"NEGATIVE_NOT_RESTORATIVE":          "Sleep is observed to be non-restorative, likely indicating poor sleep quality. This could be due to various factors such as stress, late bedtime, or other disturbances.",
	"NEGATIVE_LONG_BUT_NOT_RESTORATIVE": "Although sleep duration is extended, it is still not restorative. This may be influenced by factors like very strenuous exercise, impacting the overall restfulness of the sleep.",
	"NEGATIVE_SHORT_AND_POOR_QUALITY":   "Sleep duration is short, and the quality is poor. This could be a result of insufficient sleep time or other factors affecting the overall sleep experience.",
	"NEGATIVE_SHORT_AND_NONRECOVERING":  "Sleep is short, and there's inadequate recovery, likely influenced by factors such as late bedtime. The sleep lacks the necessary duration for proper restoration.",
	"POSITIVE_OPTIMAL_STRUCTURE":        "Sleep is structured optimally, suggesting a positive sleep pattern without any notable issues or disturbances. This is indicative of good sleep quality.",
	"POSITIVE_LONG_AND_CALM":            "Sleep duration is long and characterized by a calm state. This positive sleep pattern is observed, potentially contributing to better overall well-being.",
	"POSITIVE_LONG_AND_CONTINUOUS":      "Sleep duration is both long and continuous, implying a positive and uninterrupted sleep experience. This is generally associated with better restfulness.",
	"POSITIVE_DEEP":                     "Deep sleep is observed, indicating a positive aspect of the sleep cycle. However, it might be impacted by external factors, such as a stressful day, affecting the overall sleep experience.",
}

var insight = map[string]string{
	"NONE":                             "No specific sleep insight is identified. This could mean that there are no notable external factors influencing the sleep pattern during the analyzed period.",
	"NEGATIVE_LATE_BED_TIME":           "Sleep is negatively affected by a late bedtime. Going to bed late may disrupt the natural sleep-wake cycle, potentially leading to difficulties in falling asleep or achieving restorative sleep.",
	"NEGATIVE_VERY_STRENUOUS_EXERCISE": "Intense or very strenuous exercise close to bedtime negatively impacts sleep quality. The body needs time to wind down, and vigorous exercise shortly before sleep may interfere with this process.",
	"NEGATIVE_STRESSFUL_DAY":           "Sleep is negatively affected by a stressful day. High stress levels can interfere with the ability to relax and unwind, potentially impacting the overall quality of sleep.",
	"POSITIVE_EXERCISE":                "The positive influence of exercise on sleep is observed. Regular physical activity is known to contribute to better sleep quality and overall well-being.",
	"POSITIVE_LATE_BED_TIME":           "Going to bed late is observed as a positive factor in this context. It's important to note that individual sleep preferences and rhythms can vary, and for some, a later bedtime may align with better sleep quality.",
}

// ExplainFeedback returns the explanation for a sleep score feedback code.
// Unknown codes are returned unchanged.
func ExplainFeedback(code string) string {
	if text, ok := feedback[code]; ok {
		return text
	}
	return code
}

// ExplainInsight returns the explanation for a sleep score insight code.
// Unknown codes are returned unchanged.
func ExplainInsight(code string) string {
	if text, ok := insight[code]; ok {
		return text
	}
	return code
}

// FeedbackCodes lists the known feedback codes in sorted order.
func FeedbackCodes() []string {
	return sortedKeys(feedback)
}

// InsightCodes lists the known insight codes in sorted order.
func InsightCodes() []string {
	return sortedKeys(insight)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
