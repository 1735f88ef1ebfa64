// Package classifier provides the spam-detection capability for Togusa.
//
// The classifier sits between the message queue and the decision policy.
// Its sole responsibility is scoring: given raw message text, produce a
// spam probability in [0, 1] that the scoring service converts into a
// routing decision. Training, evaluation, and artifact management are
// part of the same capability so the training service can drive a full
// retrain cycle through one interface.
//
// Implementations are swappable. The rest of the system depends only on
// the Classifier interface; replacing the model (naive Bayes, logistic
// regression, an external service) requires no changes to the queue,
// scoring, or training packages.
package classifier

import (
	"context"
	"errors"
)

// ErrNotLoaded is returned by Predict and Evaluate when no model has been
// loaded or trained yet. Callers should treat this as a readiness signal
// rather than a failure: the scorer backs off and retries instead of
// marking messages as failed.
var ErrNotLoaded = errors.New("classifier: no model loaded")

// ErrInvalidInput is returned when the input cannot be scored or trained
// on at all (empty text, empty training set). Callers should reject the
// request rather than retry; the same input will fail the same way.
var ErrInvalidInput = errors.New("classifier: invalid input")

// Sample is one labelled text used for training or evaluation.
type Sample struct {
	// Text is the raw message body.
	Text string
	// Spam is true when the message is labelled spam, false for ham.
	Spam bool
}

// Metrics holds the evaluation results of a model against a labelled set.
//
// Precision and Recall follow the zero-denominator convention: when a
// denominator is zero the metric is 0, not NaN. F1 is likewise 0 when
// Precision+Recall is 0. This keeps metrics storable and comparable even
// for degenerate validation sets.
type Metrics struct {
	// Accuracy is (TP+TN) / (TP+TN+FP+FN).
	Accuracy float64
	// Precision is TP / (TP+FP), or 0 when no positives were predicted.
	Precision float64
	// Recall is TP / (TP+FN), or 0 when the set contains no spam.
	Recall float64
	// F1 is the harmonic mean 2PR/(P+R), or 0 when P+R is 0.
	F1 float64

	// Confusion matrix counts. Spam is the positive class.
	TP int
	TN int
	FP int
	FN int
}

// Classifier is the capability contract every spam model implements.
//
// Predict must be safe for concurrent use from multiple goroutines once a
// model is available. Train and Load replace the in-memory model; an
// in-flight Load blocks predictions until the swap completes, so a caller
// never scores against a half-loaded model.
type Classifier interface {
	// Train fits a new model on samples and persists it to artifactPath.
	// On success the new model replaces the in-memory one and the persisted
	// artifact path is returned. Returns ErrInvalidInput when samples is
	// empty. The previous model remains loaded on failure.
	Train(ctx context.Context, samples []Sample, artifactPath string) (string, error)

	// Evaluate scores every sample with the current model at a 0.5 cutoff
	// and returns the resulting metrics. Returns ErrNotLoaded when no model
	// is available. An empty sample set yields zero-valued Metrics.
	Evaluate(ctx context.Context, samples []Sample) (Metrics, error)

	// Load reads a previously persisted artifact and swaps it in as the
	// current model. A missing artifact is reported with a wrapped
	// fs.ErrNotExist so callers can distinguish it from corruption.
	Load(ctx context.Context, artifactPath string) error

	// Predict returns the spam probability for text in [0, 1].
	// Returns ErrNotLoaded when no model is available and ErrInvalidInput
	// when text is empty.
	Predict(ctx context.Context, text string) (float64, error)
}
