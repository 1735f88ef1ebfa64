package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"
)

// Bayes is the default Classifier: a multinomial naive Bayes model with
// Laplace smoothing over lowercase word tokens. Artifacts are JSON files so
// they stay inspectable with standard tooling.
//
// A single RWMutex guards the model pointer: Predict and Evaluate take the
// read lock, Train and Load take the write lock. Predictions therefore block
// during an activation load instead of observing a half-loaded model.
type Bayes struct {
	mu    sync.RWMutex
	model *bayesModel
	path  string
}

// bayesModel is the persisted artifact. Counts only; probabilities are
// derived at prediction time.
type bayesModel struct {
	SpamDocs   int            `json:"spam_docs"`
	HamDocs    int            `json:"ham_docs"`
	SpamTokens map[string]int `json:"spam_tokens"`
	HamTokens  map[string]int `json:"ham_tokens"`
	SpamTotal  int            `json:"spam_total"`
	HamTotal   int            `json:"ham_total"`
	Vocabulary int            `json:"vocabulary"`
}

// NewBayes returns an empty classifier; it reports ErrNotLoaded until the
// first successful Train or Load.
func NewBayes() *Bayes {
	return &Bayes{}
}

// Train fits token counts on samples and persists the artifact to
// artifactPath before swapping it in as the current model. The previous
// model stays loaded when training fails.
func (b *Bayes) Train(ctx context.Context, samples []Sample, artifactPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", fmt.Errorf("empty training set: %w", ErrInvalidInput)
	}

	m := &bayesModel{
		SpamTokens: make(map[string]int),
		HamTokens:  make(map[string]int),
	}
	for _, s := range samples {
		tokens := tokenize(s.Text)
		if s.Spam {
			m.SpamDocs++
			for _, tok := range tokens {
				m.SpamTokens[tok]++
				m.SpamTotal++
			}
		} else {
			m.HamDocs++
			for _, tok := range tokens {
				m.HamTokens[tok]++
				m.HamTotal++
			}
		}
	}

	vocab := make(map[string]struct{}, len(m.SpamTokens)+len(m.HamTokens))
	for tok := range m.SpamTokens {
		vocab[tok] = struct{}{}
	}
	for tok := range m.HamTokens {
		vocab[tok] = struct{}{}
	}
	m.Vocabulary = len(vocab)

	if err := writeArtifact(artifactPath, m); err != nil {
		return "", err
	}

	b.mu.Lock()
	b.model = m
	b.path = artifactPath
	b.mu.Unlock()

	return artifactPath, nil
}

// Evaluate scores every sample with the current model at a 0.5 cutoff. Spam
// is the positive class. An empty sample set yields zero-valued Metrics.
func (b *Bayes) Evaluate(ctx context.Context, samples []Sample) (Metrics, error) {
	if err := ctx.Err(); err != nil {
		return Metrics{}, err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.model == nil {
		return Metrics{}, ErrNotLoaded
	}

	var m Metrics
	for _, s := range samples {
		predictedSpam := b.model.pSpam(s.Text) >= 0.5
		switch {
		case s.Spam && predictedSpam:
			m.TP++
		case s.Spam && !predictedSpam:
			m.FN++
		case !s.Spam && predictedSpam:
			m.FP++
		default:
			m.TN++
		}
	}

	total := m.TP + m.TN + m.FP + m.FN
	if total > 0 {
		m.Accuracy = float64(m.TP+m.TN) / float64(total)
	}
	if m.TP+m.FP > 0 {
		m.Precision = float64(m.TP) / float64(m.TP+m.FP)
	}
	if m.TP+m.FN > 0 {
		m.Recall = float64(m.TP) / float64(m.TP+m.FN)
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	return m, nil
}

// Load reads a persisted artifact and swaps it in as the current model.
func (b *Bayes) Load(ctx context.Context, artifactPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", artifactPath, err)
	}

	m := &bayesModel{}
	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to parse artifact %s: %w", artifactPath, err)
	}
	if m.SpamTokens == nil {
		m.SpamTokens = make(map[string]int)
	}
	if m.HamTokens == nil {
		m.HamTokens = make(map[string]int)
	}

	b.mu.Lock()
	b.model = m
	b.path = artifactPath
	b.mu.Unlock()

	return nil
}

// Predict returns the spam probability for text.
func (b *Bayes) Predict(ctx context.Context, text string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("empty text: %w", ErrInvalidInput)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.model == nil {
		return 0, ErrNotLoaded
	}
	return b.model.pSpam(text), nil
}

// ArtifactPath returns the path of the currently loaded artifact, or "" when
// no model is loaded.
func (b *Bayes) ArtifactPath() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.path
}

// pSpam computes P(spam | text) from smoothed log-likelihoods. Caller holds
// at least the read lock.
func (m *bayesModel) pSpam(text string) float64 {
	docs := m.SpamDocs + m.HamDocs

	// Laplace-smoothed priors keep the math defined when a class is absent
	// from the training set entirely.
	logSpam := math.Log(float64(m.SpamDocs+1) / float64(docs+2))
	logHam := math.Log(float64(m.HamDocs+1) / float64(docs+2))

	for _, tok := range tokenize(text) {
		logSpam += math.Log(float64(m.SpamTokens[tok]+1) / float64(m.SpamTotal+m.Vocabulary+1))
		logHam += math.Log(float64(m.HamTokens[tok]+1) / float64(m.HamTotal+m.Vocabulary+1))
	}

	// 1 / (1 + e^(logHam-logSpam)) is the two-class softmax; the subtraction
	// keeps the exponent small enough to avoid overflow for ordinary inputs,
	// and +Inf still degrades to the correct limit of 0.
	return 1 / (1 + math.Exp(logHam-logSpam))
}

// tokenize lowercases text and splits it into letter/digit runs. Punctuation
// and symbols act as separators only.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// writeArtifact persists the model JSON with a temp-file rename so a crashed
// write never leaves a truncated artifact at the final path.
func writeArtifact(path string, m *bayesModel) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create models directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return nil
}
