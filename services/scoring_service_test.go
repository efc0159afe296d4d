package services

import (
	"strings"
	"testing"

	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/prompts"
	providertest "github.com/brandviz/brandviz/internal/providers/testutil"
)

func TestParseStageReply(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantErr   bool
		mentioned bool
		position  int
		sentiment string
	}{
		{
			name:      "plain object",
			text:      providertest.SampleReply(2, "positive"),
			mentioned: true, position: 2, sentiment: "positive",
		},
		{
			name:      "fenced with prose",
			text:      "Here you go:\n```json\n" + providertest.SampleReply(1, "Negative") + "\n```",
			mentioned: true, position: 1, sentiment: "negative",
		},
		{
			name:      "unknown sentiment becomes neutral",
			text:      `{"brand_mentioned": true, "position": 3, "sentiment": "mixed", "score": 50}`,
			mentioned: true, position: 3, sentiment: "neutral",
		},
		{
			name:      "position dropped when not mentioned",
			text:      `{"brand_mentioned": false, "position": 4, "sentiment": "positive", "score": 50}`,
			mentioned: false, position: 0, sentiment: "positive",
		},
		{name: "no object", text: "Acme is great.", wantErr: true},
		{name: "broken json", text: `{"brand_mentioned": tru}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, err := ParseStageReply(tt.text)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", reply)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStageReply: %v", err)
			}
			if reply.BrandMentioned != tt.mentioned || reply.Position != tt.position || reply.Sentiment != tt.sentiment {
				t.Errorf("got mentioned=%v position=%d sentiment=%s", reply.BrandMentioned, reply.Position, reply.Sentiment)
			}
		})
	}
}

func TestHeuristic(t *testing.T) {
	competitors := []string{"Globex", "Initech", "Umbrella"}

	tests := []struct {
		name      string
		text      string
		mentioned bool
		position  int
		score     float64
		sentiment models.Sentiment
		comps     []string
	}{
		{
			name:      "brand first",
			text:      "I recommend Acme, it is excellent. Globex is fine too.",
			mentioned: true, position: 1, score: 100, sentiment: models.SentimentPositive,
			comps: []string{"Globex"},
		},
		{
			name:      "brand third",
			text:      "Initech and globex lead the market. ACME has had complaints and issues.",
			mentioned: true, position: 3, score: 70, sentiment: models.SentimentNegative,
			comps: []string{"Initech", "Globex"},
		},
		{
			name:      "absent",
			text:      "Umbrella is the best choice.",
			mentioned: false, position: 0, score: 0, sentiment: models.SentimentNeutral,
			comps: []string{"Umbrella"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := Heuristic(tt.text, "Acme", competitors)
			if reply.BrandMentioned != tt.mentioned || reply.Position != tt.position || reply.Score != tt.score {
				t.Errorf("got mentioned=%v position=%d score=%v", reply.BrandMentioned, reply.Position, reply.Score)
			}
			if models.Sentiment(reply.Sentiment) != tt.sentiment {
				t.Errorf("sentiment = %s, want %s", reply.Sentiment, tt.sentiment)
			}
			if strings.Join(reply.Competitors, ",") != strings.Join(tt.comps, ",") {
				t.Errorf("competitors = %v, want %v", reply.Competitors, tt.comps)
			}
		})
	}
}

func TestHeuristicMatchesWholeWords(t *testing.T) {
	reply := Heuristic("Try a pineapple smoothie from Globex.", "Apple", []string{"Globex"})
	if reply.BrandMentioned || reply.Position != 0 || reply.Score != 0 {
		t.Errorf("got mentioned=%v position=%d score=%v, want no mention", reply.BrandMentioned, reply.Position, reply.Score)
	}

	reply = Heuristic("Pineapples aside, Apple's phones beat Globex.", "Apple", []string{"Globex"})
	if !reply.BrandMentioned || reply.Position != 1 {
		t.Errorf("got mentioned=%v position=%d, want apple first", reply.BrandMentioned, reply.Position)
	}

	tests := []struct {
		text, name string
		want       int
	}{
		{"apple", "apple", 0},
		{"pineapple", "apple", -1},
		{"applesauce", "apple", -1},
		{"pineapple, then apple.", "apple", 16},
		{"café crème", "café", 0},
		{"le cafés", "café", -1},
		{"", "apple", -1},
	}
	for _, tt := range tests {
		if got := mentionIndex(tt.text, tt.name); got != tt.want {
			t.Errorf("mentionIndex(%q, %q) = %d, want %d", tt.text, tt.name, got, tt.want)
		}
	}
}

func TestHeuristicScoreFloor(t *testing.T) {
	var comps []string
	text := ""
	for i := 0; i < 9; i++ {
		name := "Rival" + string(rune('A'+i))
		comps = append(comps, name)
		text += name + " "
	}
	reply := Heuristic(text+"Acme", "Acme", comps)
	if reply.Position != 10 || reply.Score != 10 {
		t.Errorf("position=%d score=%v, want 10 and floor 10", reply.Position, reply.Score)
	}
}

func TestScore(t *testing.T) {
	catalog := testCatalog(t)

	tests := []struct {
		name     string
		stage    models.FunnelStage
		reply    prompts.StageReply
		raw      float64
		weight   float64
		weighted float64
	}{
		{"position first", models.StageTOFU, prompts.StageReply{BrandMentioned: true, Position: 1, Score: 90}, 90, 1, 90},
		{"position second", models.StageMOFU, prompts.StageReply{BrandMentioned: true, Position: 2, Score: 75}, 75, 0.8, 60},
		{"position past last key", models.StageTOFU, prompts.StageReply{BrandMentioned: true, Position: 9, Score: 50}, 50, 0.6, 30},
		{"mentioned without rank", models.StageTOFU, prompts.StageReply{BrandMentioned: true, Score: 50}, 50, 0.6, 30},
		{"sentiment negative", models.StageBOFU, prompts.StageReply{BrandMentioned: true, Position: 1, Sentiment: "negative", Score: 80}, 80, 0.2, 16},
		{"sentiment neutral", models.StageEVFU, prompts.StageReply{BrandMentioned: true, Sentiment: "neutral", Score: 33}, 33, 0.5, 16.5},
		{"clamped high", models.StageTOFU, prompts.StageReply{BrandMentioned: true, Position: 1, Score: 140}, 100, 1, 100},
		{"clamped low", models.StageTOFU, prompts.StageReply{BrandMentioned: true, Position: 1, Score: -5}, 0, 1, 0},
		{"absent", models.StageBOFU, prompts.StageReply{BrandMentioned: false, Sentiment: "positive", Score: 90}, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := tt.reply
			got := Score(tt.stage, &reply, catalog)
			if got.RawScore != tt.raw || got.Weight != tt.weight || got.WeightedScore != tt.weighted {
				t.Errorf("raw=%v weight=%v weighted=%v, want %v %v %v", got.RawScore, got.Weight, got.WeightedScore, tt.raw, tt.weight, tt.weighted)
			}
		})
	}
}

func TestEvaluateFallsBackToHeuristic(t *testing.T) {
	scoring := NewScoringService(testCatalog(t))
	brand := &models.Brand{Name: "Acme", Competitors: []string{"Globex"}}

	got := scoring.Evaluate(models.StageTOFU, "Globex is popular, but Acme is a great alternative. See https://www.acme.example/pricing?utm_source=chat", brand)
	if !got.Heuristic {
		t.Error("expected heuristic scoring")
	}
	if !got.BrandMentioned || got.Position == nil || *got.Position != 2 {
		t.Errorf("mentioned=%v position=%v", got.BrandMentioned, got.Position)
	}
	if got.RawScore != 85 || got.WeightedScore != 68 {
		t.Errorf("raw=%v weighted=%v, want 85 and 68", got.RawScore, got.WeightedScore)
	}
	if len(got.Sources) != 1 || got.Sources[0] != "https://acme.example/pricing" {
		t.Errorf("sources = %v", got.Sources)
	}
}

func TestExtractSources(t *testing.T) {
	text := `Sources: https://www.example.com/a/, https://example.com/a and https://news.example.org/story?utm_medium=x&id=7
Logo https://cdn.example.net/logo.PNG and ftp://files.example.com/x plus http://plain.example.org.`

	got := ExtractSources(text)
	want := []string{"https://example.com/a", "https://news.example.org/story?id=7", "http://plain.example.org"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Errorf("ExtractSources = %v, want %v", got, want)
	}
}

func TestTruncateKeepsRunes(t *testing.T) {
	if got := truncate("héllo wörld", 7); got != "héllo w" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
}
