package verdict

// Label is the final user-facing classification of a URL.
type Label string

const (
	LabelSafe     Label = "Safe"
	LabelPhishing Label = "Phishing"
)

// OverrideConfidence is reported whenever the verdict overrides the classifier.
const OverrideConfidence = 0.99

// ClassifierOutput is the classifier's label and confidence for a URL.
type ClassifierOutput struct {
	Label      Label
	Confidence float64
}

// FusedDecision combines a Verdict with the classifier's output.
type FusedDecision struct {
	Label         Label   `json:"prediction"`
	Confidence    float64 `json:"confidence"`
	RawModelLabel Label   `json:"raw_model_prediction"`
	Verdict       Verdict `json:"third_party_analysis"`
	Overridden    bool    `json:"-"`
}

// Fuse applies the decision policy: a Malicious verdict forces Phishing, an
// allowlisted Clean verdict forces Safe, anything else keeps the
// classifier's answer.
func Fuse(v Verdict, model ClassifierOutput) FusedDecision {
	d := FusedDecision{
		Label:         model.Label,
		Confidence:    model.Confidence,
		RawModelLabel: model.Label,
		Verdict:       v,
	}

	switch {
	case v.Status == StatusMalicious:
		d.Label, d.Confidence, d.Overridden = LabelPhishing, OverrideConfidence, true
	case v.Status == StatusClean && v.Source == SourceAllowlist:
		d.Label, d.Confidence, d.Overridden = LabelSafe, OverrideConfidence, true
	}
	return d
}
