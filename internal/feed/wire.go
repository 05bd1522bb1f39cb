package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hward/marketboard/internal/model"
)

// Upstream channel names. A channel may carry a world filter suffix, e.g.
// "listings/add{world=34}"; without it the subscription covers all worlds.
const (
	ChannelListingsAdd    = "listings/add"
	ChannelListingsRemove = "listings/remove"
	ChannelSalesAdd       = "sales/add"
)

// formatChannel renders a channel with an optional world filter in the
// upstream's brace syntax.
func formatChannel(channel string, world model.WorldID) string {
	if world == 0 {
		return channel
	}
	return fmt.Sprintf("%s{world=%d}", channel, world)
}

// parseChannel splits a channel string into its base name and world filter.
func parseChannel(s string) (channel string, world model.WorldID, err error) {
	open := strings.IndexByte(s, '{')
	if open < 0 {
		return s, 0, nil
	}
	if !strings.HasSuffix(s, "}") || !strings.HasPrefix(s[open:], "{world=") {
		return "", 0, fmt.Errorf("feed: malformed channel %q", s)
	}
	id, err := strconv.ParseInt(s[open+len("{world="):len(s)-1], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("feed: malformed world filter in %q", s)
	}
	return s[:open], model.WorldID(id), nil
}

// directive is the outbound subscribe/unsubscribe command.
type directive struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
}

// frame is the inbound message envelope. Event discriminates the payload.
type frame struct {
	Event    string        `json:"event"`
	World    model.WorldID `json:"world"`
	Item     model.ItemID  `json:"item"`
	Listings []wireListing `json:"listings"`
	Sales    []wireSale    `json:"sales"`
}

type wireListing struct {
	ID           uuid.UUID `json:"id"`
	PricePerUnit int64     `json:"price_per_unit"`
	Quantity     int32     `json:"quantity"`
	HQ           bool      `json:"hq"`
	RetainerID   uuid.UUID `json:"retainer_id"`
	RetainerName string    `json:"retainer_name"`
	ListedAt     time.Time `json:"listed_at"`
}

type wireSale struct {
	PricePerUnit int64     `json:"price_per_unit"`
	Quantity     int32     `json:"quantity"`
	HQ           bool      `json:"hq"`
	BuyerName    string    `json:"buyer_name"`
	SoldAt       time.Time `json:"sold_at"`
}

func parseFrame(data []byte) (frame, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return frame{}, fmt.Errorf("feed: decoding frame: %w", err)
	}
	if f.Event == "" {
		return frame{}, fmt.Errorf("feed: frame missing event discriminator")
	}
	return f, nil
}

func (f frame) modelListings() []model.Listing {
	if len(f.Listings) == 0 {
		return nil
	}
	out := make([]model.Listing, len(f.Listings))
	for i, l := range f.Listings {
		out[i] = model.Listing{
			ID:           l.ID,
			Item:         f.Item,
			World:        f.World,
			PricePerUnit: l.PricePerUnit,
			Quantity:     l.Quantity,
			HQ:           l.HQ,
			RetainerID:   l.RetainerID,
			RetainerName: l.RetainerName,
			ListedAt:     l.ListedAt.UTC(),
		}
	}
	return out
}

func (f frame) modelSales() []model.SaleRecord {
	if len(f.Sales) == 0 {
		return nil
	}
	out := make([]model.SaleRecord, len(f.Sales))
	for i, s := range f.Sales {
		out[i] = model.SaleRecord{
			Item:         f.Item,
			World:        f.World,
			PricePerUnit: s.PricePerUnit,
			Quantity:     s.Quantity,
			HQ:           s.HQ,
			BuyerName:    s.BuyerName,
			SoldAt:       s.SoldAt.UTC(),
		}
	}
	return out
}
