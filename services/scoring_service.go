// services/scoring_service.go
package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"mvdan.cc/xurls/v2"

	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/prompts"
	"github.com/brandviz/brandviz/internal/providers/common"
)

var ErrNoReplyObject = errors.New("no JSON object in reply")

// ScoreResult is the scored outcome of one stage answer
type ScoreResult struct {
	BrandMentioned bool
	Position       *int
	Sentiment      models.Sentiment
	RawScore       float64
	Weight         float64
	WeightedScore  float64
	Competitors    []string
	Sources        []string
	Summary        string
	// Heuristic is true when the answer was not valid JSON and was scored from plain text
	Heuristic bool
}

var (
	positiveWords = []string{
		"recommend", "excellent", "great", "best", "leading", "reliable", "popular",
		"trusted", "strong", "love", "favorite", "favourite", "top choice", "well-regarded",
	}
	negativeWords = []string{
		"avoid", "poor", "bad", "worst", "complaint", "complaints", "unreliable", "overpriced",
		"issues", "problems", "lacks", "disappointing", "switch away", "not recommend",
	}
	imageExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".svg", ".webp"}
)

type scoringService struct {
	catalog *prompts.Catalog
}

func NewScoringService(catalog *prompts.Catalog) ScoringService {
	return &scoringService{catalog: catalog}
}

// Evaluate parses the assistant answer, falling back to text heuristics, and scores it
func (s *scoringService) Evaluate(stage models.FunnelStage, response string, brand *models.Brand) ScoreResult {
	reply, err := ParseStageReply(response)
	heuristic := false
	if err != nil {
		reply = Heuristic(response, brand.Name, brand.Competitors)
		heuristic = true
	}

	result := Score(stage, reply, s.catalog)
	result.Heuristic = heuristic
	result.Sources = ExtractSources(response)
	return result
}

// ParseStageReply decodes the JSON object an assistant returned for a stage prompt.
// Code fences and surrounding prose are ignored.
func ParseStageReply(text string) (*prompts.StageReply, error) {
	cleaned := common.StripCodeFences(text)
	object, ok := common.ExtractJSONObject(cleaned)
	if !ok {
		return nil, ErrNoReplyObject
	}

	var reply prompts.StageReply
	if err := json.Unmarshal([]byte(object), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse stage reply: %w", err)
	}

	reply.Sentiment = string(normalizeSentiment(reply.Sentiment))
	if !reply.BrandMentioned {
		reply.Position = 0
	}
	return &reply, nil
}

// Heuristic builds a reply from free text when the assistant ignored the JSON format.
// Position is the brand's order of first appearance among the brand and its competitors.
func Heuristic(text, brand string, competitors []string) *prompts.StageReply {
	lower := strings.ToLower(text)
	reply := &prompts.StageReply{
		Sentiment: string(models.SentimentNeutral),
		Summary:   truncate(strings.TrimSpace(text), 1000),
	}

	brandAt := -1
	if b := strings.ToLower(strings.TrimSpace(brand)); b != "" {
		brandAt = mentionIndex(lower, b)
	}

	type seen struct {
		name string
		at   int
	}
	var found []seen
	for _, c := range competitors {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if at := mentionIndex(lower, strings.ToLower(c)); at >= 0 {
			found = append(found, seen{name: c, at: at})
		}
	}
	// insertion order by first appearance
	for i := 1; i < len(found); i++ {
		for j := i; j > 0 && found[j].at < found[j-1].at; j-- {
			found[j], found[j-1] = found[j-1], found[j]
		}
	}
	for _, f := range found {
		reply.Competitors = append(reply.Competitors, f.name)
	}

	if brandAt < 0 {
		return reply
	}

	reply.BrandMentioned = true
	reply.Position = 1
	for _, f := range found {
		if f.at < brandAt {
			reply.Position++
		}
	}
	reply.Score = math.Max(10, 100-15*float64(reply.Position-1))

	pos, neg := 0, 0
	for _, w := range positiveWords {
		pos += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		neg += strings.Count(lower, w)
	}
	switch {
	case pos > neg:
		reply.Sentiment = string(models.SentimentPositive)
	case neg > pos:
		reply.Sentiment = string(models.SentimentNegative)
	}
	return reply
}

// mentionIndex finds name in text as a whole word, so "apple" does not match
// inside "pineapple". It returns -1 when there is no such occurrence.
func mentionIndex(text, name string) int {
	if name == "" {
		return -1
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], name)
		if i < 0 {
			return -1
		}
		at := from + i
		end := at + len(name)
		before, _ := utf8.DecodeLastRuneInString(text[:at])
		after, _ := utf8.DecodeRuneInString(text[end:])
		if (at == 0 || !isWordRune(before)) && (end == len(text) || !isWordRune(after)) {
			return at
		}
		_, size := utf8.DecodeRuneInString(text[at:])
		from = at + size
	}
	return -1
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Score applies the catalog weights to a reply. A brand that is not mentioned
// scores zero and takes the absent position weight.
func Score(stage models.FunnelStage, reply *prompts.StageReply, catalog *prompts.Catalog) ScoreResult {
	result := ScoreResult{
		BrandMentioned: reply.BrandMentioned,
		Sentiment:      normalizeSentiment(reply.Sentiment),
		Competitors:    reply.Competitors,
		Summary:        reply.Summary,
	}
	if result.Competitors == nil {
		result.Competitors = []string{}
	}

	if !reply.BrandMentioned {
		result.RawScore = 0
		result.Weight = catalog.AbsentWeight()
		result.WeightedScore = 0
		return result
	}

	result.RawScore = clamp(reply.Score, 0, 100)

	rank := reply.Position
	if rank >= 1 {
		result.Position = &rank
	} else {
		// mentioned without a rank counts as the lowest configured rank
		rank = math.MaxInt32
	}

	switch catalog.Mode(stage) {
	case prompts.ModeSentiment:
		result.Weight = catalog.SentimentWeight(result.Sentiment)
	default:
		result.Weight = catalog.PositionWeight(rank, true)
	}

	result.WeightedScore = round2(result.RawScore * result.Weight)
	return result
}

// ExtractSources returns the distinct http(s) links cited in an answer.
// www. prefixes, utm_ parameters and trailing slashes are removed; image links are skipped.
func ExtractSources(text string) []string {
	sources := []string{}
	seen := make(map[string]bool)

	for _, match := range xurls.Strict().FindAllString(text, -1) {
		u, err := url.Parse(strings.TrimSpace(match))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}

		u.Host = strings.TrimPrefix(u.Host, "www.")
		q := u.Query()
		for param := range q {
			if strings.HasPrefix(strings.ToLower(param), "utm_") {
				q.Del(param)
			}
		}
		u.RawQuery = q.Encode()
		cleaned := strings.TrimRight(u.String(), "/.,)")

		pathLower := strings.ToLower(u.Path)
		isImage := false
		for _, ext := range imageExtensions {
			if strings.HasSuffix(pathLower, ext) {
				isImage = true
				break
			}
		}
		if cleaned == "" || isImage || seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		sources = append(sources, cleaned)
	}
	return sources
}

func normalizeSentiment(s string) models.Sentiment {
	switch models.Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case models.SentimentPositive:
		return models.SentimentPositive
	case models.SentimentNegative:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
