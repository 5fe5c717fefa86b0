package classify

import (
	"context"
	"errors"

	"github.com/joisarv/civic/internal/models"
	"github.com/joisarv/civic/internal/store"
)

// LabelNoIssue is the catch-all label for images that show no civic problem.
const LabelNoIssue = "No Issue"

// DefaultLabelPrompts maps each routable label to the criteria the classifier
// scores the image against. Keys other than LabelNoIssue must match a seeded
// department name.
var DefaultLabelPrompts = map[string]string{
	"Public Works":                    "Clear damage to public infrastructure: potholes, broken roads, cracked sidewalks, fallen trees blocking paths, broken benches, flooded streets, or damaged playground equipment in public parks.",
	"Disaster Management":             "Major disaster or emergency damage: severe flooding, storm damage, landslides, collapsed buildings, or large-scale fire damage. Minor issues belong to another department.",
	"Municipal Cleaning & Sanitation": "Visible sanitation problems: overflowing garbage bins, illegal dumping, sewage leaks, stagnant water, dead animals on public property, or significant littering.",
	"Electricity Dept":                "Electrical issues: broken streetlights, damaged power poles, exposed wires, sparking equipment, or malfunctioning traffic signals.",
	"Water Department":                "Water supply problems: burst pipes, major water leaks, flooding from a water main, or vandalized public taps. Minor puddles or rain belong to another department.",
	"Transport Department":            "Damaged public transport infrastructure: broken bus stops, malfunctioning arrival boards, or damaged public buses.",
	LabelNoIssue:                      "Normal, well-maintained public spaces with no visible problems.",
}

// Classifier scores an image against a labeled prompt set and returns the
// best label with a confidence in [0,1]. Implementations must be free of
// side effects.
type Classifier interface {
	Classify(ctx context.Context, image []byte, mediaType string, labels map[string]string) (label string, confidence float64, err error)
}

// Decision is the outcome of running a report image through the gate.
type Decision struct {
	Department *models.Department // nil when the report is rejected
	Label      string
	Confidence float64
}

// Accepted reports whether the gate routed the image to a department.
func (d *Decision) Accepted() bool { return d.Department != nil }

// Gate wraps a Classifier with the accept/reject policy: reject below the
// confidence threshold, reject the catch-all label, otherwise resolve the
// label to a registered department.
type Gate struct {
	classifier Classifier
	store      store.Store
	labels     map[string]string
	threshold  float64
}

// NewGate creates a classification gate. The threshold trades false-accepts
// against false-rejects and must come from configuration.
func NewGate(c Classifier, s store.Store, threshold float64) *Gate {
	return &Gate{
		classifier: c,
		store:      s,
		labels:     DefaultLabelPrompts,
		threshold:  threshold,
	}
}

// Evaluate classifies the image and applies the gate policy. A label that
// names no registered department is a ConfigurationError, not a rejection.
func (g *Gate) Evaluate(ctx context.Context, image []byte, mediaType string) (*Decision, error) {
	label, confidence, err := g.classifier.Classify(ctx, image, mediaType, g.labels)
	if err != nil {
		return nil, err
	}

	d := &Decision{Label: label, Confidence: confidence}
	if confidence < g.threshold || label == LabelNoIssue {
		return d, nil
	}

	dept, err := g.store.GetDepartmentByName(ctx, label)
	if err != nil {
		var nf *models.NotFoundError
		if errors.As(err, &nf) {
			return nil, &models.ConfigurationError{
				Msg: "classifier label " + label + " has no registered department",
			}
		}
		return nil, err
	}
	d.Department = dept
	return d, nil
}
