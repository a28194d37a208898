package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"advisory-service/internal/metrics"
	"advisory-service/internal/models"

	"go.uber.org/zap"
)

const snippetTimeout = 8 * time.Second

// ContentProvider serves authored advisory text keyed by the rule outcome's content_key.
type ContentProvider interface {
	GetContent(ctx context.Context, key, language string) (string, error)
}

type SnippetGenerator interface {
	GenerateSnippet(ctx context.Context, req models.SnippetRequest) (string, error)
}

// ContentInput is everything known about an advisory when its text is built.
type ContentInput struct {
	Outcome  models.RuleOutcome
	Severity models.Severity
	Context  models.EvaluationContext
	Farmer   *models.Farmer
}

type Content struct {
	Title  string
	Body   string
	Source string
}

const (
	ContentSourceStore    = "store"
	ContentSourceTemplate = "template"
	ContentSourceSnippet  = "snippet"
	ContentSourceGeneric  = "generic"
)

// ContentBuilder resolves advisory text in order: authored content from the
// store, the rule's message template, a generated snippet, a generic fallback.
// Either collaborator may be nil.
type ContentBuilder struct {
	store    ContentProvider
	snippets SnippetGenerator
	log      *zap.Logger
}

func NewContentBuilder(store ContentProvider, snippets SnippetGenerator, log *zap.Logger) *ContentBuilder {
	return &ContentBuilder{store: store, snippets: snippets, log: log}
}

func (b *ContentBuilder) Build(ctx context.Context, in ContentInput) Content {
	data := newTemplateData(in)
	title := b.renderTitle(in, data)

	if body, ok := b.fromStore(ctx, in); ok {
		return b.done(Content{Title: title, Body: body, Source: ContentSourceStore})
	}

	if tmpl := in.Outcome.MessageTemplate; tmpl != "" {
		body, err := renderTemplate("message", tmpl, data)
		if err == nil && strings.TrimSpace(body) != "" {
			return b.done(Content{Title: title, Body: body, Source: ContentSourceTemplate})
		}
		b.log.Warn("failed to render advisory message template",
			zap.String("advisory_type", in.Outcome.AdvisoryType),
			zap.Error(err))
	}

	if body, ok := b.fromSnippet(ctx, in, title); ok {
		return b.done(Content{Title: title, Body: body, Source: ContentSourceSnippet})
	}

	return b.done(Content{Title: title, Body: genericBody(title, data), Source: ContentSourceGeneric})
}

func (b *ContentBuilder) done(c Content) Content {
	metrics.RecordContentSource(c.Source)
	return c
}

func (b *ContentBuilder) fromStore(ctx context.Context, in ContentInput) (string, bool) {
	key := in.Outcome.ContentKey
	if b.store == nil || key == "" {
		return "", false
	}
	body, err := b.store.GetContent(ctx, key, farmerLanguage(in.Farmer))
	if err != nil {
		if !errors.Is(err, models.ErrContentNotFound) {
			b.log.Warn("content store unavailable, falling back",
				zap.String("content_key", key),
				zap.Error(err))
		}
		return "", false
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

func (b *ContentBuilder) fromSnippet(ctx context.Context, in ContentInput, title string) (string, bool) {
	if b.snippets == nil {
		return "", false
	}
	snippetCtx, cancel := context.WithTimeout(ctx, snippetTimeout)
	defer cancel()

	req := models.SnippetRequest{
		Title:       title,
		Severity:    in.Severity,
		Signals:     in.Context.Signals,
		District:    in.Context.District,
		CropType:    in.Context.CropType,
		GrowthStage: in.Context.GrowthStage,
		Language:    farmerLanguage(in.Farmer),
	}
	body, err := b.snippets.GenerateSnippet(snippetCtx, req)
	if err != nil {
		b.log.Warn("snippet generation failed, using generic text", zap.Error(err))
		return "", false
	}
	body = strings.TrimSpace(body)
	return body, body != ""
}

func (b *ContentBuilder) renderTitle(in ContentInput, data templateData) string {
	if raw := in.Outcome.Title; raw != "" {
		title, err := renderTemplate("title", raw, data)
		if err == nil && strings.TrimSpace(title) != "" {
			return strings.TrimSpace(title)
		}
		return raw
	}
	advisoryType := in.Outcome.AdvisoryType
	if advisoryType == "" {
		advisoryType = "general"
	}
	return fmt.Sprintf("%s %s advisory", in.Severity, strings.ToLower(advisoryType))
}

// templateData is the view rule templates render against, e.g. "Flood risk in {{.District}}".
type templateData struct {
	FarmerName  string
	District    string
	Crop        string
	GrowthStage string
	Season      string
	Severity    string
	Signal      string
	Signals     string
	Temperature string
	Rainfall    string
	Humidity    string
	WindSpeed   string
}

func newTemplateData(in ContentInput) templateData {
	c := in.Context
	data := templateData{
		District:    c.District,
		Crop:        deref(c.CropType),
		GrowthStage: deref(c.GrowthStage),
		Season:      deref(c.Season),
		Severity:    string(in.Severity),
		Signals:     strings.Join(models.SignalsToStrings(c.Signals), ", "),
	}
	if in.Farmer != nil {
		data.FarmerName = in.Farmer.Name
	}
	if primary, ok := c.PrimarySignal(); ok {
		data.Signal = string(primary)
	}
	if w := c.Weather; w != nil {
		data.Temperature = formatMeasure(w.Temperature)
		data.Rainfall = formatMeasure(w.EffectiveRainfall24h())
		data.Humidity = formatMeasure(w.Humidity)
		data.WindSpeed = formatMeasure(w.WindSpeed)
	}
	return data
}

func renderTemplate(name, text string, data templateData) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.String(), nil
}

func genericBody(title string, data templateData) string {
	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString(".")
	if data.Signals != "" {
		fmt.Fprintf(&sb, " Conditions: %s.", data.Signals)
	}
	if data.District != "" {
		fmt.Fprintf(&sb, " District: %s.", data.District)
	}
	sb.WriteString(" Contact your local agriculture extension office for guidance.")
	return sb.String()
}

func formatMeasure(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%.1f", *v)
}

func farmerLanguage(f *models.Farmer) string {
	if f == nil || f.Language == "" {
		return "en"
	}
	return f.Language
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
