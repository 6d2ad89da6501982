package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/pkg/notion"
)

// Notion property names in the opportunities database.
const (
	PropName       = "Name"
	PropKey        = "Decision Key"
	PropCategory   = "Category"
	PropPrice      = "Amazon Price"
	PropBestOffer  = "Best Offer"
	PropProvider   = "Provider"
	PropNetSpread  = "Net Spread"
	PropGross      = "Gross Spread"
	PropProfile    = "Profile"
	PropCondition  = "Condition"
	PropAI         = "AI"
	PropListingURL = "Listing URL"
	PropOfferURL   = "Offer URL"
	PropSeenAt     = "Seen At"
)

// NotionSink upserts one page per opportunity in a Notion database. A
// listing seen again updates its existing page.
type NotionSink struct {
	client notion.Client
	dbID   string
	now    func() time.Time
}

// NewNotionSink creates a sink writing to database dbID.
func NewNotionSink(client notion.Client, dbID string) *NotionSink {
	return &NotionSink{client: client, dbID: dbID, now: time.Now}
}

// Name identifies the sink in logs and run reports.
func (n *NotionSink) Name() string { return "notion" }

// DecisionKey identifies the listing behind d across runs: the listing URL
// when known, otherwise name, price and category.
func DecisionKey(d model.Decision) string {
	if u := strings.TrimSpace(d.Candidate.URL); u != "" {
		return "url:" + strings.ToLower(u)
	}
	return fmt.Sprintf("title:%s|price:%s|cat:%s",
		strings.ToLower(strings.Join(strings.Fields(d.NormalizedName), " ")),
		d.Candidate.Price.StringFixed(2),
		d.Candidate.Category,
	)
}

// Notify creates or updates the page for d.
func (n *NotionSink) Notify(ctx context.Context, d model.Decision) error {
	if !Notifiable(d) {
		return nil
	}
	key := DecisionKey(d)
	props := n.properties(d, key)

	existing, err := notion.FindPageByText(ctx, n.client, n.dbID, PropKey, key)
	if err != nil {
		return eris.Wrap(err, "notion sink: lookup")
	}

	if existing != nil {
		if _, err := n.client.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{
			Properties: props,
		}); err != nil {
			return eris.Wrapf(err, "notion sink: update page %s", existing.ID)
		}
		zap.L().Debug("notion sink: page updated", zap.String("key", key))
		return nil
	}

	if _, err := n.client.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(n.dbID),
		},
		Properties: props,
	}); err != nil {
		return eris.Wrap(err, "notion sink: create page")
	}
	zap.L().Debug("notion sink: page created", zap.String("key", key))
	return nil
}

func (n *NotionSink) properties(d model.Decision, key string) notionapi.Properties {
	c := d.Candidate
	props := notionapi.Properties{
		PropName:      notion.Title(d.NormalizedName),
		PropKey:       notion.Text(key),
		PropCategory:  notion.Select(string(c.Category)),
		PropPrice:     notion.Number(c.Price.InexactFloat64()),
		PropBestOffer: notion.Number(d.BestOffer().InexactFloat64()),
		PropProvider:  notion.Select(string(d.Best.Provider)),
		PropNetSpread: notion.Number(d.NetSpread.InexactFloat64()),
		PropProfile:   notion.Select(d.Profile),
		PropAI:        notion.Text(aiLabel(d.AI)),
		PropSeenAt:    notion.Date(n.now()),
	}
	if d.GrossSpread != nil {
		props[PropGross] = notion.Number(d.GrossSpread.InexactFloat64())
	}
	if c.Condition != "" {
		props[PropCondition] = notion.Text(c.Condition)
	}
	if c.URL != "" {
		props[PropListingURL] = notion.URL(c.URL)
	}
	if d.Best.SourceURL != "" {
		props[PropOfferURL] = notion.URL(d.Best.SourceURL)
	}
	return props
}
