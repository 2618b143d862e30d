package consultation

import "fmt"

// analysisPrompt asks for four sections. The diagnosis extractor relies on the
// "2)" numbering of the ranked diagnoses.
const analysisPrompt = `
You are a medical image analysis assistant.

Patient info:
 • Age: %d
 • Gender: %s
 • Symptom duration: %d days
 • Fever: %s

Please provide:
1) Bullet-point findings from the image.
2) Top 3 possible diagnoses (ranked).
3) Recommended next steps.
4) A disclaimer.
`

// BuildPrompt fills the analysis prompt with the patient profile.
func BuildPrompt(p PatientProfile) string {
	return fmt.Sprintf(analysisPrompt, p.Age, p.Gender, p.SymptomDurationDays, yesNo(p.FeverPresent))
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
