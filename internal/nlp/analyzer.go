// Package nlp classifies diner feedback with Claude: emotional state, review
// sentiment and authenticity, and negative feedback triage.
package nlp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/PeterSoManLung/FindDinning/internal/config"
	"github.com/PeterSoManLung/FindDinning/internal/model"
	"github.com/PeterSoManLung/FindDinning/internal/resilience"
	"github.com/PeterSoManLung/FindDinning/pkg/anthropic"
)

// Kind names an analysis.
type Kind string

const (
	KindEmotion          Kind = "emotion"
	KindSentiment        Kind = "sentiment"
	KindNegativeFeedback Kind = "negative_feedback"
)

// ParseKind maps a request value to a Kind. Empty means sentiment.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case "":
		return KindSentiment, nil
	case KindEmotion, KindSentiment, KindNegativeFeedback:
		return Kind(s), nil
	}
	return "", model.InvalidInputf("Unsupported analysis type: %s", s)
}

// Emotion is the diner's emotional state.
type Emotion struct {
	Emotion       string  `json:"emotion"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
	MoodIntensity int     `json:"mood_intensity"`
}

// Sentiment is the polarity and authenticity of a restaurant review.
type Sentiment struct {
	Sentiment          string   `json:"sentiment"`
	Confidence         float64  `json:"confidence"`
	AuthenticityScore  float64  `json:"authenticity_score"`
	KeyAspects         []string `json:"key_aspects"`
	NegativeIndicators []string `json:"negative_indicators"`
	PositiveIndicators []string `json:"positive_indicators"`
}

// NegativeFeedback triages a complaint.
type NegativeFeedback struct {
	IsAuthentic            bool     `json:"is_authentic"`
	AuthenticityConfidence float64  `json:"authenticity_confidence"`
	ComplaintCategories    []string `json:"complaint_categories"`
	SeverityScore          int      `json:"severity_score"`
	SpecificIssues         []string `json:"specific_issues"`
	ConstructiveFeedback   bool     `json:"constructive_feedback"`
	FakeReviewIndicators   []string `json:"fake_review_indicators"`
}

// Result carries exactly one of Emotion, Sentiment or NegativeFeedback.
// Fallback is set when the model reply could not be parsed and the neutral
// default was substituted.
type Result struct {
	Type             Kind              `json:"analysis_type"`
	Fallback         bool              `json:"fallback"`
	Emotion          *Emotion          `json:"emotion,omitempty"`
	Sentiment        *Sentiment        `json:"sentiment,omitempty"`
	NegativeFeedback *NegativeFeedback `json:"negative_feedback,omitempty"`
}

var emotions = map[string]bool{
	"happy": true, "sad": true, "stressed": true,
	"neutral": true, "angry": true, "tired": true,
}

var sentiments = map[string]bool{"positive": true, "negative": true, "neutral": true}

var complaintCategories = map[string]bool{
	"service": true, "food_quality": true, "cleanliness": true,
	"value": true, "atmosphere": true, "wait_time": true,
}

const systemPrompt = `You analyze feedback written by restaurant diners.
Reply with a single JSON object and nothing else. Do not wrap it in markdown.
Scores described as 0-1 are decimals between 0 and 1 inclusive.`

type kindSpec struct {
	maxTokens int64
	prompt    string
}

var kindSpecs = map[Kind]kindSpec{
	KindEmotion: {
		maxTokens: 300,
		prompt: `Classify the emotional state expressed in the text into exactly one of:
- happy (celebratory, excited, joyful)
- sad (disappointed, down, melancholy)
- stressed (anxious, overwhelmed, tense)
- neutral (calm, content, balanced)
- angry (frustrated, irritated, upset)
- tired (exhausted, weary, drained)

Text: %q

JSON fields:
- emotion: one of the categories above
- confidence: 0-1
- reasoning: one sentence
- mood_intensity: integer 1-5`,
	},
	KindSentiment: {
		maxTokens: 400,
		prompt: `Assess the sentiment of this restaurant review and how authentic it seems.

Text: %q

JSON fields:
- sentiment: positive, negative or neutral
- confidence: 0-1
- authenticity_score: 0-1
- key_aspects: aspects mentioned (food, service, atmosphere, ...)
- negative_indicators: specific complaints
- positive_indicators: specific praise`,
	},
	KindNegativeFeedback: {
		maxTokens: 500,
		prompt: `Triage this negative restaurant feedback for authenticity and category.

Text: %q

JSON fields:
- is_authentic: true if this reads as genuine criticism
- authenticity_confidence: 0-1
- complaint_categories: subset of service, food_quality, cleanliness, value, atmosphere, wait_time
- severity_score: integer 1-5
- specific_issues: specific problems mentioned
- constructive_feedback: true if the feedback is actionable rather than venting
- fake_review_indicators: signs the review may be fake`,
	},
}

// Analyzer runs feedback analyses against a Claude model.
type Analyzer struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	guard     *resilience.Guard
}

// NewAnalyzer creates an Analyzer. cfg.MaxTokens caps the per-kind budget.
func NewAnalyzer(client anthropic.Client, cfg config.AnthropicConfig, settings resilience.Settings) *Analyzer {
	return &Analyzer{
		client:    client,
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		guard:     settings.Guard("anthropic"),
	}
}

// Analyze runs the kind of analysis named by kind over text. A reply that is
// not valid JSON yields the neutral fallback with Fallback set; a failed
// request is returned as an error.
func (a *Analyzer) Analyze(ctx context.Context, text string, kind Kind) (*Result, error) {
	text = norm.NFC.String(strings.TrimSpace(text))
	if text == "" {
		return nil, model.InvalidInputf("Text is required")
	}
	spec, ok := kindSpecs[kind]
	if !ok {
		return nil, model.InvalidInputf("Unsupported analysis type: %s", kind)
	}

	maxTokens := spec.maxTokens
	if a.maxTokens > 0 && a.maxTokens < maxTokens {
		maxTokens = a.maxTokens
	}

	log := zap.L().With(zap.String("component", "nlp"), zap.String("analysis_type", string(kind)))

	resp, err := resilience.Call(ctx, a.guard, "create_message", func(ctx context.Context) (*anthropic.MessageResponse, error) {
		resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     a.model,
			MaxTokens: maxTokens,
			System:    systemPrompt,
			CacheTTL:  anthropic.CacheDefault,
			Prompt:    fmt.Sprintf(spec.prompt, text),
		})
		if status := anthropic.StatusCode(err); resilience.IsTransientHTTPStatus(status) {
			return nil, resilience.NewTransientError(err, status)
		}
		return resp, err
	})
	if err != nil {
		return nil, eris.Wrapf(err, "nlp: analyze %s", kind)
	}
	resp.Usage.LogCost(a.model, "nlp."+string(kind))

	res, perr := parse(kind, resp.Text)
	if perr != nil {
		log.Warn("nlp: unparsable model reply, using fallback", zap.Error(perr))
		return fallback(kind), nil
	}
	return res, nil
}

func parse(kind Kind, reply string) (*Result, error) {
	raw, err := extractJSON(reply)
	if err != nil {
		return nil, err
	}

	res := &Result{Type: kind}
	switch kind {
	case KindEmotion:
		var e Emotion
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, eris.Wrap(err, "nlp: decode emotion")
		}
		e.Emotion = strings.ToLower(strings.TrimSpace(e.Emotion))
		if !emotions[e.Emotion] {
			return nil, eris.Errorf("nlp: unknown emotion %q", e.Emotion)
		}
		e.Confidence = clampUnit(e.Confidence)
		e.MoodIntensity = clampInt(e.MoodIntensity, 1, 5)
		res.Emotion = &e
	case KindSentiment:
		var s Sentiment
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, eris.Wrap(err, "nlp: decode sentiment")
		}
		s.Sentiment = strings.ToLower(strings.TrimSpace(s.Sentiment))
		if !sentiments[s.Sentiment] {
			return nil, eris.Errorf("nlp: unknown sentiment %q", s.Sentiment)
		}
		s.Confidence = clampUnit(s.Confidence)
		s.AuthenticityScore = clampUnit(s.AuthenticityScore)
		s.KeyAspects = nonNil(s.KeyAspects)
		s.NegativeIndicators = nonNil(s.NegativeIndicators)
		s.PositiveIndicators = nonNil(s.PositiveIndicators)
		res.Sentiment = &s
	case KindNegativeFeedback:
		var n NegativeFeedback
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, eris.Wrap(err, "nlp: decode negative feedback")
		}
		n.AuthenticityConfidence = clampUnit(n.AuthenticityConfidence)
		n.SeverityScore = clampInt(n.SeverityScore, 1, 5)
		cats := make([]string, 0, len(n.ComplaintCategories))
		for _, c := range n.ComplaintCategories {
			if c = strings.ToLower(strings.TrimSpace(c)); complaintCategories[c] {
				cats = append(cats, c)
			}
		}
		n.ComplaintCategories = cats
		n.SpecificIssues = nonNil(n.SpecificIssues)
		n.FakeReviewIndicators = nonNil(n.FakeReviewIndicators)
		res.NegativeFeedback = &n
	}
	return res, nil
}

// extractJSON returns the outermost object in reply, tolerating prose or code
// fences around it.
func extractJSON(reply string) ([]byte, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, eris.New("nlp: no JSON object in reply")
	}
	raw := []byte(reply[start : end+1])
	if !json.Valid(raw) {
		return nil, eris.New("nlp: malformed JSON in reply")
	}
	return raw, nil
}

func fallback(kind Kind) *Result {
	res := &Result{Type: kind, Fallback: true}
	switch kind {
	case KindEmotion:
		res.Emotion = &Emotion{
			Emotion:       "neutral",
			Confidence:    0.5,
			Reasoning:     "Unable to parse detailed analysis",
			MoodIntensity: 3,
		}
	case KindSentiment:
		res.Sentiment = &Sentiment{
			Sentiment:          "neutral",
			Confidence:         0.5,
			AuthenticityScore:  0.5,
			KeyAspects:         []string{},
			NegativeIndicators: []string{},
			PositiveIndicators: []string{},
		}
	case KindNegativeFeedback:
		res.NegativeFeedback = &NegativeFeedback{
			IsAuthentic:            true,
			AuthenticityConfidence: 0.5,
			ComplaintCategories:    []string{},
			SeverityScore:          3,
			SpecificIssues:         []string{},
			ConstructiveFeedback:   true,
			FakeReviewIndicators:   []string{},
		}
	}
	return res
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
