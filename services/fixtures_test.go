package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/billing"
	"github.com/brandviz/brandviz/internal/cache"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/email"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/prompts"
	"github.com/brandviz/brandviz/internal/providers"
	providertest "github.com/brandviz/brandviz/internal/providers/testutil"
	"github.com/brandviz/brandviz/internal/testutil"
)

const testCatalogCSV = `kind,stage,key,value,weight
prompt,TOFU,position,"Best {{.Industry}} brands?",
prompt,MOFU,position,"Compare {{.Brand}} with {{join .Competitors "", ""}}",
prompt,BOFU,sentiment,"Should I buy {{.Brand}}?",
prompt,EVFU,sentiment,"Do customers recommend {{.Brand}}?",
position,,1,,1
position,,2,,0.8
position,,3,,0.6
position,,absent,,0
sentiment,,positive,,1
sentiment,,neutral,,0.5
sentiment,,negative,,0.2
stage,TOFU,,,2
stage,MOFU,,,1
stage,BOFU,,,1
stage,EVFU,,,1
`

var nopLogger = zerolog.Nop()

func testCatalog(t *testing.T) *prompts.Catalog {
	t.Helper()
	c, err := prompts.Parse(strings.NewReader(testCatalogCSV))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	return c
}

func testConfig() *config.Config {
	cfg := providertest.SampleConfig()
	cfg.AppURL = "https://app.brandviz.test"
	cfg.Analysis.SignupBonusCredits = 3
	cfg.Analysis.StaleAfter = 2 * time.Hour
	cfg.Analysis.PendingExpiry = 6 * time.Hour
	cfg.Stripe.PriceStarter = "price_starter"
	cfg.Stripe.PriceGrowth = "price_growth"
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.TokenTTL = time.Hour
	return cfg
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []email.Message
	err  error
}

func (m *fakeMailer) Send(ctx context.Context, msg email.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *fakeMailer) last(t *testing.T) email.Message {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no email sent")
	}
	return m.sent[len(m.sent)-1]
}

// inviteToken pulls the raw token out of the accept link in the last invite email
func (m *fakeMailer) inviteToken(t *testing.T) string {
	t.Helper()
	msg := m.last(t)
	idx := strings.Index(msg.PlainText, "token=")
	if idx < 0 {
		t.Fatalf("no accept link in %q", msg.PlainText)
	}
	raw := msg.PlainText[idx+len("token="):]
	if end := strings.IndexAny(raw, " \n"); end >= 0 {
		raw = raw[:end]
	}
	token, err := url.QueryUnescape(raw)
	if err != nil {
		t.Fatalf("unescape token: %v", err)
	}
	return token
}

type fakeGateway struct {
	session *billing.CheckoutSession
	event   *billing.Event
	err     error
	lastReq billing.CheckoutRequest
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	g.lastReq = req
	if g.err != nil {
		return nil, g.err
	}
	return g.session, nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*billing.Event, error) {
	if signature != "valid" {
		return nil, billing.ErrInvalidSignature
	}
	return g.event, nil
}

type dispatchCall struct {
	AnalysisID  uuid.UUID
	BrandID     uuid.UUID
	TriggeredBy string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	err   error
}

func (d *fakeDispatcher) DispatchAnalysis(ctx context.Context, analysisID, brandID uuid.UUID, triggeredBy string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, dispatchCall{analysisID, brandID, triggeredBy})
	return nil
}

var errProviderDown = errors.New("provider unavailable")

type analysisHarness struct {
	store      *testutil.Store
	service    BackgroundAnalysisService
	credits    CreditService
	dispatcher *fakeDispatcher
	chatgpt    *providertest.MockProvider
	claude     *providertest.MockProvider
}

func newAnalysisHarness(t *testing.T) *analysisHarness {
	t.Helper()
	store := testutil.NewStore()
	repos := store.Manager()
	cfg := testConfig()
	catalog := testCatalog(t)

	h := &analysisHarness{
		store:      store,
		dispatcher: &fakeDispatcher{},
		chatgpt:    providertest.NewMockProvider("chatgpt"),
		claude:     providertest.NewMockProvider("claude"),
	}
	h.chatgpt.Reply = providertest.SampleReply(1, "positive")
	h.claude.Reply = providertest.SampleReply(2, "neutral")

	registry := providers.Registry{"chatgpt": h.chatgpt, "claude": h.claude}
	h.credits = NewCreditService(cfg, repos, billing.Disabled{}, &fakeMailer{}, nil, nopLogger)
	data := NewDataOrganizationService(repos, catalog, nil, time.Minute, nopLogger)
	h.service = NewBackgroundAnalysisService(cfg, repos, catalog, registry, NewScoringService(catalog), h.credits, data, h.dispatcher, nil, nopLogger)
	return h
}

// runAll drives an analysis the way the workflow does
func (h *analysisHarness) runAll(t *testing.T, view *AnalysisView) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.service.MarkRunning(ctx, view.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	for _, m := range view.Models {
		for _, st := range view.Stages {
			if _, err := h.service.RunStep(ctx, view.ID, models.AIModel(m), models.FunnelStage(st)); err != nil {
				t.Fatalf("RunStep %s/%s: %v", m, st, err)
			}
		}
	}
	if _, err := h.service.Finalize(ctx, view.ID); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

// mapCache is an in-process cache.Cache that counts hits and writes
type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
	sets int
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}}
}

func (c *mapCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return cache.ErrCacheMiss
	}
	c.hits++
	return json.Unmarshal(raw, dest)
}

func (c *mapCache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.data[key] = raw
	return nil
}

func (c *mapCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}
