// Package services – ResponseService
//
// This file implements ResponseService, the two-stage drafting pipeline for
// engagement opportunities. Stage one asks the generation client to analyze
// the opportunity text into structured JSON; the analysis keywords drive
// retrieval over the profile's knowledge collection; stage two combines the
// profile's voice, the retrieved knowledge, and the conversation context into
// the final prompt and persists the result as the next draft version.
//
// Draft versions are monotonic per opportunity and never reused: inserting a
// new draft dismisses any prior drafts in the same transaction, so exactly
// one draft is live at a time while the full drafting history survives.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// carry opportunity and response identifiers.

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-engage-backend/internal/domain"
	"github.com/tbourn/go-engage-backend/internal/genai"
	"github.com/tbourn/go-engage-backend/internal/platform"
	"github.com/tbourn/go-engage-backend/internal/repo"
	"github.com/tbourn/go-engage-backend/internal/vector"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	roleSystem = "system"
	roleUser   = "user"

	// defaultTopK caps how many knowledge chunks ground one draft.
	defaultTopK = 5
)

// analysisPrompt is the stage-one system prompt. The model must answer with
// one JSON object so the output can be parsed strictly.
const analysisPrompt = `You analyze social media posts for an engagement assistant. ` +
	`Respond with a single JSON object and nothing else, using exactly these keys: ` +
	`"keywords" (array of strings), "concepts" (array of strings), ` +
	`"sentiment" (string), "reply_angle" (string).`

// Analysis is the structured result of the stage-one prompt.
type Analysis struct {
	Keywords   []string `json:"keywords"`
	Concepts   []string `json:"concepts"`
	Sentiment  string   `json:"sentiment"`
	ReplyAngle string   `json:"reply_angle"`
}

// Generator is the language-model contract the drafting pipeline depends on.
// Implementations must be safe for concurrent use.
type Generator interface {
	// Chat sends a conversation and returns the assistant reply text.
	Chat(ctx context.Context, messages []genai.Message) (string, error)

	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Retriever is the knowledge-base contract used to ground drafts.
type Retriever interface {
	// EnsureCollection resolves the profile's knowledge collection,
	// creating it when absent.
	EnsureCollection(ctx context.Context, profileID string) (vector.Collection, error)

	// Query returns the closest chunks to the embedding, best first.
	Query(ctx context.Context, col vector.Collection, embedding []float32, topK int) ([]vector.QueryResult, error)
}

// ResponseService generates, lists, edits, and dismisses draft responses.
type ResponseService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Gen produces analyses, embeddings, and draft text.
	Gen Generator
	// Store retrieves knowledge chunks for grounding.
	Store Retriever
	// Constraints are the posting limits of the target platform, taken
	// from the adapter at wiring time.
	Constraints platform.Constraints

	// TopK caps how many knowledge chunks ground a draft. Zero means
	// defaultTopK.
	TopK int
}

// NewResponseService constructs a ResponseService with the default
// retrieval depth.
func NewResponseService(db *gorm.DB, gen Generator, store Retriever, constraints platform.Constraints) *ResponseService {
	return &ResponseService{
		DB:          db,
		Gen:         gen,
		Store:       store,
		Constraints: constraints,
		TopK:        defaultTopK,
	}
}

// Generate produces the next draft response for an opportunity. Stage one
// analyzes the post, retrieval grounds the draft in the profile's knowledge
// collection, and stage two writes the reply in the profile's voice. The new
// draft supersedes any prior drafts atomically.
func (s *ResponseService) Generate(ctx context.Context, opportunityID, accountID, profileID string) (*domain.Response, error) {
	tr := otel.Tracer("services/ResponseService")
	ctx, span := tr.Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("opportunity.id", opportunityID),
			attribute.String("account.id", accountID),
			attribute.String("profile.id", profileID),
		),
	)
	defer span.End()

	opp, err := repo.GetOpportunity(ctx, s.DB, opportunityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOpportunityNotFound
		}
		return nil, err
	}
	if _, err := repo.GetAccount(ctx, s.DB, accountID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	profile, err := repo.GetProfile(ctx, s.DB, profileID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}

	// The cached author enriches the prompt when it is still around;
	// a vanished author is cosmetic, not an error.
	var author *domain.Author
	if a, aerr := repo.GetAuthor(ctx, s.DB, opp.AuthorID); aerr == nil {
		author = a
	}

	analysis, err := s.analyze(ctx, opp)
	if err != nil {
		return nil, err
	}
	knowledge := s.retrieve(ctx, profileID, analysis.Keywords)

	text, err := s.draft(ctx, profile, opp, author, analysis, knowledge)
	if err != nil {
		return nil, err
	}
	text = truncateRunes(strings.TrimSpace(text), s.Constraints.MaxPostLength)
	if text == "" {
		return nil, &ValidationError{Reason: "generation produced an empty draft"}
	}

	var out *domain.Response
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.DismissDraftResponses(ctx, tx, opp.ID, time.Now().UTC()); err != nil {
			return err
		}
		v, err := repo.MaxResponseVersion(ctx, tx, opp.ID)
		if err != nil {
			return err
		}
		r := &domain.Response{
			OpportunityID: opp.ID,
			AccountID:     accountID,
			Text:          text,
			Status:        domain.ResponseStatusDraft,
			Version:       v + 1,
		}
		if err := repo.CreateResponse(ctx, tx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// analyze runs the stage-one prompt and parses its strict JSON output.
// Output that is not valid JSON, or that carries no keywords, is a
// validation failure and is never silently defaulted.
func (s *ResponseService) analyze(ctx context.Context, opp *domain.Opportunity) (*Analysis, error) {
	raw, err := s.Gen.Chat(ctx, []genai.Message{
		{Role: roleSystem, Content: analysisPrompt},
		{Role: roleUser, Content: opp.Content},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis stage: %w", err)
	}

	var a Analysis
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &a); err != nil {
		return nil, &ValidationError{Reason: "analysis output is not valid JSON", Payload: raw}
	}
	if len(a.Keywords) == 0 {
		return nil, &ValidationError{Reason: "analysis output carries no keywords", Payload: raw}
	}
	return &a, nil
}

// retrieve embeds the analysis keywords and pulls the closest knowledge
// chunks for the profile. Retrieval failures degrade to an unprimed draft
// rather than failing the pipeline.
func (s *ResponseService) retrieve(ctx context.Context, profileID string, keywords []string) []string {
	query := strings.TrimSpace(strings.Join(keywords, " "))
	if query == "" {
		return nil
	}
	col, err := s.Store.EnsureCollection(ctx, profileID)
	if err != nil {
		log.Warn().Err(err).
			Str("profile_id", profileID).
			Msg("knowledge collection unavailable, drafting without grounding")
		return nil
	}
	embs, err := s.Gen.Embed(ctx, []string{query})
	if err != nil || len(embs) == 0 {
		log.Warn().Err(err).
			Str("profile_id", profileID).
			Msg("query embedding failed, drafting without grounding")
		return nil
	}
	hits, err := s.Store.Query(ctx, col, embs[0], s.topK())
	if err != nil {
		log.Warn().Err(err).
			Str("profile_id", profileID).
			Msg("knowledge query failed, drafting without grounding")
		return nil
	}

	texts := make([]string, 0, len(hits))
	for _, h := range hits {
		texts = append(texts, h.Text)
	}
	return texts
}

// draft runs the stage-two prompt and returns the raw reply text.
func (s *ResponseService) draft(ctx context.Context, profile *domain.Profile, opp *domain.Opportunity, author *domain.Author, a *Analysis, knowledge []string) (string, error) {
	text, err := s.Gen.Chat(ctx, []genai.Message{
		{Role: roleSystem, Content: s.voicePrompt(profile)},
		{Role: roleUser, Content: draftPrompt(opp, author, a, knowledge)},
	})
	if err != nil {
		return "", fmt.Errorf("generation stage: %w", err)
	}
	return text, nil
}

// voicePrompt renders the stage-two system prompt from the profile.
func (s *ResponseService) voicePrompt(p *domain.Profile) string {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = "the account owner"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You draft concise social media replies on behalf of %s.\n", name)
	if v := strings.TrimSpace(p.Voice); v != "" {
		fmt.Fprintf(&b, "Voice and tone: %s\n", v)
	}
	if v := strings.TrimSpace(p.Principles); v != "" {
		fmt.Fprintf(&b, "Principles every reply must respect: %s\n", v)
	}
	if v := strings.TrimSpace(p.Interests); v != "" {
		fmt.Fprintf(&b, "Topics they care about: %s\n", v)
	}
	if limit := s.Constraints.MaxPostLength; limit > 0 {
		fmt.Fprintf(&b, "The reply must fit in %d characters.\n", limit)
	}
	b.WriteString("Answer with the reply text only, no quotes and no commentary.")
	return b.String()
}

// draftPrompt renders the stage-two user prompt from the opportunity, its
// cached author when one survives, the stage-one analysis, and the
// retrieved knowledge.
func draftPrompt(opp *domain.Opportunity, author *domain.Author, a *Analysis, knowledge []string) string {
	var b strings.Builder
	if author != nil {
		name := strings.TrimSpace(author.DisplayName)
		if name == "" {
			name = author.Handle
		}
		fmt.Fprintf(&b, "Post by %s (@%s):\n%s\n", name, author.Handle, opp.Content)
	} else {
		fmt.Fprintf(&b, "Post to reply to:\n%s\n", opp.Content)
	}
	if v := strings.TrimSpace(a.Sentiment); v != "" {
		fmt.Fprintf(&b, "\nPost sentiment: %s\n", v)
	}
	if v := strings.TrimSpace(a.ReplyAngle); v != "" {
		fmt.Fprintf(&b, "Suggested angle: %s\n", v)
	}
	if len(a.Concepts) > 0 {
		fmt.Fprintf(&b, "Key concepts: %s\n", strings.Join(a.Concepts, ", "))
	}
	if len(knowledge) > 0 {
		b.WriteString("\nNotes from the owner's knowledge base:\n")
		for _, k := range knowledge {
			fmt.Fprintf(&b, "- %s\n", k)
		}
	}
	b.WriteString("\nWrite the reply.")
	return b.String()
}

// ListResponses returns every response for the opportunity, oldest version
// first.
func (s *ResponseService) ListResponses(ctx context.Context, opportunityID string) ([]domain.Response, error) {
	tr := otel.Tracer("services/ResponseService")
	ctx, span := tr.Start(ctx, "ListResponses",
		trace.WithAttributes(attribute.String("opportunity.id", opportunityID)),
	)
	defer span.End()

	return repo.ListResponses(ctx, s.DB, opportunityID)
}

// UpdateResponse replaces the text of a draft. Posted and dismissed
// responses are immutable.
func (s *ResponseService) UpdateResponse(ctx context.Context, id, text string) (*domain.Response, error) {
	tr := otel.Tracer("services/ResponseService")
	ctx, span := tr.Start(ctx, "UpdateResponse",
		trace.WithAttributes(attribute.String("response.id", id)),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &ValidationError{Reason: "response text is empty"}
	}

	r, err := repo.GetResponse(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	if r.Status != domain.ResponseStatusDraft {
		return nil, &InvalidStateError{Current: r.Status, Expected: domain.ResponseStatusDraft}
	}
	if err := repo.UpdateResponseText(ctx, s.DB, id, text); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	return repo.GetResponse(ctx, s.DB, id)
}

// DismissResponse retires a draft without deleting it, preserving the
// drafting history.
func (s *ResponseService) DismissResponse(ctx context.Context, id string) (*domain.Response, error) {
	tr := otel.Tracer("services/ResponseService")
	ctx, span := tr.Start(ctx, "DismissResponse",
		trace.WithAttributes(attribute.String("response.id", id)),
	)
	defer span.End()

	r, err := repo.GetResponse(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	if r.Status != domain.ResponseStatusDraft {
		return nil, &InvalidStateError{Current: r.Status, Expected: domain.ResponseStatusDraft}
	}
	if err := repo.DismissResponse(ctx, s.DB, id, time.Now().UTC()); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	return repo.GetResponse(ctx, s.DB, id)
}

func (s *ResponseService) topK() int {
	if s.TopK > 0 {
		return s.TopK
	}
	return defaultTopK
}

// truncateRunes clips s to at most limit runes. A non-positive limit means
// no clipping.
func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// stripCodeFence unwraps a Markdown code fence around a model reply, which
// chat models frequently add despite JSON-only instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{}") {
		// Drop the language tag line, e.g. the "json" in "```json".
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
