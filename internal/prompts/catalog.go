// Package prompts loads the funnel prompt templates and scoring weights from CSV.
package prompts

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"github.com/invopop/jsonschema"

	"github.com/brandviz/brandviz/internal/models"
)

// Header is the required first row of a prompt catalog file
var Header = []string{"kind", "stage", "key", "value", "weight"}

// WeightMode selects which multiplier a stage applies to its raw score
type WeightMode string

const (
	ModePosition  WeightMode = "position"
	ModeSentiment WeightMode = "sentiment"
)

// BrandContext is the data available to prompt templates
type BrandContext struct {
	Brand       string
	Website     string
	Industry    string
	Description string
	Competitors []string
	Keywords    []string
	Region      string
}

// NewBrandContext builds template data from a stored brand
func NewBrandContext(b *models.Brand) BrandContext {
	return BrandContext{
		Brand:       b.Name,
		Website:     b.Website,
		Industry:    b.Industry,
		Description: b.Description,
		Competitors: b.Competitors,
		Keywords:    b.Keywords,
		Region:      b.Region,
	}
}

// StageReply is the JSON object every stage prompt asks the assistant to return
type StageReply struct {
	BrandMentioned bool     `json:"brand_mentioned" jsonschema_description:"True if the brand is named anywhere in your answer"`
	Position       int      `json:"position" jsonschema_description:"1-based rank of the brand among all brands you recommended, 0 if not mentioned"`
	Sentiment      string   `json:"sentiment" jsonschema:"enum=positive,enum=neutral,enum=negative" jsonschema_description:"Overall tone toward the brand"`
	Score          float64  `json:"score" jsonschema:"minimum=0,maximum=100" jsonschema_description:"How strongly the answer favours the brand, 0 to 100"`
	Competitors    []string `json:"competitors" jsonschema_description:"Other brands named in the answer, in order of appearance"`
	Summary        string   `json:"summary" jsonschema_description:"Your full answer to the question"`
}

// Catalog holds the parsed templates and weights
type Catalog struct {
	templates  map[models.FunnelStage]*template.Template
	modes      map[models.FunnelStage]WeightMode
	positions  map[int]float64
	maxPos     int
	absent     float64
	sentiments map[models.Sentiment]float64
	stages     map[models.FunnelStage]float64
}

var funcs = template.FuncMap{
	"join": strings.Join,
}

// LoadFile reads a catalog from disk
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open prompt catalog: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads a catalog in the kind,stage,key,value,weight format
func Parse(r io.Reader) (*Catalog, error) {
	c := &Catalog{
		templates:  make(map[models.FunnelStage]*template.Template),
		modes:      make(map[models.FunnelStage]WeightMode),
		positions:  make(map[int]float64),
		sentiments: make(map[models.Sentiment]float64),
		stages:     make(map[models.FunnelStage]float64),
	}

	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = len(Header)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range Header {
		if !strings.EqualFold(strings.TrimSpace(header[i]), col) {
			return nil, fmt.Errorf("line 1: expected header %s", strings.Join(Header, ","))
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if err := c.addRow(record); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}

	for _, stage := range models.AllStages {
		if _, ok := c.templates[stage]; !ok {
			return nil, fmt.Errorf("missing prompt for stage %s", stage)
		}
	}

	return c, nil
}

func (c *Catalog) addRow(record []string) error {
	kind := strings.ToLower(strings.TrimSpace(record[0]))
	stage := models.FunnelStage(strings.ToUpper(strings.TrimSpace(record[1])))
	key := strings.ToLower(strings.TrimSpace(record[2]))
	value := record[3]

	switch kind {
	case "prompt":
		if !stage.Valid() {
			return fmt.Errorf("unknown stage %q", record[1])
		}
		if _, dup := c.templates[stage]; dup {
			return fmt.Errorf("duplicate prompt for stage %s", stage)
		}
		mode := WeightMode(key)
		if mode == "" {
			mode = ModePosition
		}
		if mode != ModePosition && mode != ModeSentiment {
			return fmt.Errorf("unknown weighting mode %q", key)
		}
		tmpl, err := template.New(string(stage)).Funcs(funcs).Option("missingkey=error").Parse(value)
		if err != nil {
			return fmt.Errorf("invalid template: %w", err)
		}
		c.templates[stage] = tmpl
		c.modes[stage] = mode
		return nil

	case "position":
		w, err := parseWeight(record[4])
		if err != nil {
			return err
		}
		if key == "absent" {
			c.absent = w
			return nil
		}
		pos, err := strconv.Atoi(key)
		if err != nil || pos < 1 {
			return fmt.Errorf("invalid position %q", record[2])
		}
		c.positions[pos] = w
		if pos > c.maxPos {
			c.maxPos = pos
		}
		return nil

	case "sentiment":
		s := models.Sentiment(key)
		if s != models.SentimentPositive && s != models.SentimentNeutral && s != models.SentimentNegative {
			return fmt.Errorf("unknown sentiment %q", record[2])
		}
		w, err := parseWeight(record[4])
		if err != nil {
			return err
		}
		c.sentiments[s] = w
		return nil

	case "stage":
		if !stage.Valid() {
			return fmt.Errorf("unknown stage %q", record[1])
		}
		w, err := parseWeight(record[4])
		if err != nil {
			return err
		}
		c.stages[stage] = w
		return nil
	}

	return fmt.Errorf("unknown kind %q", record[0])
}

func parseWeight(raw string) (float64, error) {
	w, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid weight %q", raw)
	}
	if w < 0 {
		return 0, fmt.Errorf("weight must not be negative, got %v", w)
	}
	return w, nil
}

// Render executes the stage template and appends the reply format instructions
func (c *Catalog) Render(stage models.FunnelStage, data BrandContext) (string, error) {
	tmpl, ok := c.templates[stage]
	if !ok {
		return "", fmt.Errorf("no prompt for stage %s", stage)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", stage, err)
	}

	buf.WriteString("\n\nRespond with a single JSON object and nothing else, matching this JSON schema:\n")
	buf.WriteString(ReplySchema())
	return buf.String(), nil
}

// Mode returns the weighting mode of the stage
func (c *Catalog) Mode(stage models.FunnelStage) WeightMode {
	if m, ok := c.modes[stage]; ok {
		return m
	}
	return ModePosition
}

// PositionWeight returns the multiplier for a rank. Ranks past the largest
// configured key reuse its weight; brands not mentioned get the absent weight.
func (c *Catalog) PositionWeight(pos int, mentioned bool) float64 {
	if !mentioned || pos < 1 {
		return c.absent
	}
	if len(c.positions) == 0 {
		return 1
	}
	if pos > c.maxPos {
		pos = c.maxPos
	}
	if w, ok := c.positions[pos]; ok {
		return w
	}
	// gaps fall back to the nearest configured rank above
	for p := pos - 1; p >= 1; p-- {
		if w, ok := c.positions[p]; ok {
			return w
		}
	}
	return 1
}

// AbsentWeight is the multiplier applied when the brand is not mentioned
func (c *Catalog) AbsentWeight() float64 {
	return c.absent
}

func (c *Catalog) SentimentWeight(s models.Sentiment) float64 {
	if w, ok := c.sentiments[s]; ok {
		return w
	}
	return 1
}

func (c *Catalog) StageWeight(stage models.FunnelStage) float64 {
	if w, ok := c.stages[stage]; ok {
		return w
	}
	return 1
}

// Stages returns the stages that have templates, in funnel order
func (c *Catalog) Stages() []models.FunnelStage {
	out := make([]models.FunnelStage, 0, len(c.templates))
	for _, s := range models.AllStages {
		if _, ok := c.templates[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// PositionKeys lists configured ranks in ascending order
func (c *Catalog) PositionKeys() []int {
	keys := make([]int, 0, len(c.positions))
	for k := range c.positions {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

var replySchemaObject = func() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schema := reflector.Reflect(&StageReply{})
	schema.Version = ""
	return schema
}()

var replySchema = func() string {
	out, err := json.Marshal(replySchemaObject)
	if err != nil {
		panic(fmt.Sprintf("stage reply schema: %v", err))
	}
	return string(out)
}()

// ReplySchema returns the JSON schema of StageReply
func ReplySchema() string {
	return replySchema
}

// ReplySchemaObject returns the StageReply schema for structured output APIs
func ReplySchemaObject() interface{} {
	return replySchemaObject
}
