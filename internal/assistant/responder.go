package assistant

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/rbright/parley/internal/observe"
	"google.golang.org/genai"
)

const (
	// EmptyReplyText stands in for a reply that carried no text.
	EmptyReplyText = "I'm sorry, I couldn't process that request."
	// FailureReplyText is spoken when a request fails.
	FailureReplyText = "Sorry, something went wrong. Please try again."
)

// Source is one grounding citation of a news reply.
type Source struct {
	URI   string
	Title string
}

// Reply is the answer to one prompt.
type Reply struct {
	Route   Route
	Model   string
	Text    string
	Sources []Source
	Elapsed time.Duration
}

// Responder sends prompts to the model profile chosen by Classify.
type Responder struct {
	client  *genai.Client
	cfg     Config
	logger  *slog.Logger
	metrics *observe.Metrics
}

func NewResponder(client *genai.Client, cfg Config, logger *slog.Logger, metrics *observe.Metrics) *Responder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Responder{client: client, cfg: cfg.withDefaults(), logger: logger, metrics: metrics}
}

// Respond classifies prompt and returns the model's reply.
func (r *Responder) Respond(ctx context.Context, prompt string) (Reply, error) {
	route := Classify(prompt)
	model, config := r.profile(route)
	reply := Reply{Route: route, Model: model}

	ctx, span := observe.StartSpan(ctx, "assistant.respond")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	started := time.Now()
	resp, err := r.client.Models.GenerateContent(ctx, model, genai.Text(prompt), config)
	reply.Elapsed = time.Since(started)
	r.metrics.RecordResponse(ctx, string(route), reply.Elapsed, err)
	if err != nil {
		return reply, fmt.Errorf("generate %s reply with %s: %w", route, model, err)
	}

	reply.Text = strings.TrimSpace(resp.Text())
	if reply.Text == "" {
		reply.Text = EmptyReplyText
	}
	if route == RouteNews {
		reply.Sources = groundingSources(resp)
	}
	r.logger.Debug("assistant reply",
		"route", string(route),
		"model", model,
		"chars", len(reply.Text),
		"sources", len(reply.Sources),
		"elapsed_ms", reply.Elapsed.Milliseconds(),
		"trace_id", observe.TraceID(ctx),
	)
	return reply, nil
}

func (r *Responder) profile(route Route) (string, *genai.GenerateContentConfig) {
	switch route {
	case RouteQuick:
		return r.cfg.FastModel, &genai.GenerateContentConfig{}
	case RouteNews:
		return r.cfg.GroundedModel, &genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		}
	case RoutePlan:
		budget := int32(r.cfg.ThinkingBudget)
		return r.cfg.ComplexModel, &genai.GenerateContentConfig{
			ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: &budget},
		}
	default:
		return r.cfg.TextModel, &genai.GenerateContentConfig{}
	}
}

// groundingSources collects unique web citations in response order.
func groundingSources(resp *genai.GenerateContentResponse) []Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	seen := map[string]bool{}
	var sources []Source
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" || seen[chunk.Web.URI] {
			continue
		}
		seen[chunk.Web.URI] = true
		title := chunk.Web.Title
		if title == "" {
			title = chunk.Web.URI
		}
		sources = append(sources, Source{URI: chunk.Web.URI, Title: title})
	}
	return sources
}
