package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brandviz/brandviz/internal/models"
)

const testCatalog = `kind,stage,key,value,weight
prompt,TOFU,position,"Best {{.Industry}} brands in {{.Region}}?",
prompt,MOFU,position,"Compare {{join .Competitors "", ""}}",
prompt,BOFU,sentiment,"Should I buy {{.Brand}}?",
prompt,EVFU,sentiment,"Do people recommend {{.Brand}}?",

# weights
position,,1,,1
position,,2,,0.8
position,,3,,0.6
position,,absent,,0.1
sentiment,,positive,,1
sentiment,,neutral,,0.5
sentiment,,negative,,0.2
stage,TOFU,,,2
stage,MOFU,,,1
`

func mustParse(t *testing.T, src string) *Catalog {
	t.Helper()
	c, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return c
}

func TestParseAndRender(t *testing.T) {
	c := mustParse(t, testCatalog)

	got, err := c.Render(models.StageMOFU, BrandContext{Brand: "Acme", Competitors: []string{"Globex", "Initech"}})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(got, "Compare Globex, Initech") {
		t.Errorf("unexpected prompt %q", got)
	}
	if !strings.Contains(got, `"brand_mentioned"`) {
		t.Error("expected reply schema to be appended")
	}

	if c.Mode(models.StageTOFU) != ModePosition || c.Mode(models.StageBOFU) != ModeSentiment {
		t.Error("unexpected weighting modes")
	}
}

func TestPositionWeight(t *testing.T) {
	c := mustParse(t, testCatalog)

	tests := []struct {
		name      string
		pos       int
		mentioned bool
		want      float64
	}{
		{"first", 1, true, 1},
		{"second", 2, true, 0.8},
		{"beyond largest key", 7, true, 0.6},
		{"not mentioned", 1, false, 0.1},
		{"no position", 0, true, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.PositionWeight(tt.pos, tt.mentioned); got != tt.want {
				t.Errorf("PositionWeight(%d, %v) = %v, want %v", tt.pos, tt.mentioned, got, tt.want)
			}
		})
	}
}

func TestSentimentAndStageWeights(t *testing.T) {
	c := mustParse(t, testCatalog)

	if got := c.SentimentWeight(models.SentimentNegative); got != 0.2 {
		t.Errorf("negative weight = %v", got)
	}
	if got := c.StageWeight(models.StageTOFU); got != 2 {
		t.Errorf("TOFU weight = %v", got)
	}
	if got := c.StageWeight(models.StageEVFU); got != 1 {
		t.Errorf("unconfigured stage weight should default to 1, got %v", got)
	}
}

func TestParseErrors(t *testing.T) {
	header := "kind,stage,key,value,weight\n"
	prompts := `prompt,TOFU,position,a,
prompt,MOFU,position,b,
prompt,BOFU,position,c,
prompt,EVFU,position,d,
`
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"bad header", "a,b,c,d,e\n", "expected header"},
		{"unknown kind", header + prompts + "bogus,,,,1\n", "line 6: unknown kind"},
		{"bad stage", header + "prompt,XOFU,position,a,\n", "line 2: unknown stage"},
		{"bad weight", header + prompts + "position,,1,,heavy\n", "invalid weight"},
		{"missing prompt", header + "prompt,TOFU,position,a,\n", "missing prompt for stage MOFU"},
		{"bad mode", header + "prompt,TOFU,rank,a,\n", "unknown weighting mode"},
		{"bad template", header + "prompt,TOFU,position,{{.Brand,\n", "invalid template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.src))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestShippedCatalogLoads(t *testing.T) {
	path := filepath.Join("..", "..", "data", "prompts.csv")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("catalog not found: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(c.Stages()) != len(models.AllStages) {
		t.Errorf("expected all stages, got %v", c.Stages())
	}

	_, err = c.Render(models.StageTOFU, BrandContext{Brand: "Acme", Industry: "payroll software", Keywords: []string{"smb"}})
	if err != nil {
		t.Errorf("Render: %v", err)
	}
}
