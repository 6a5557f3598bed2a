package marketplace

import (
	"sort"
	"time"

	"inkpass/internal/apperrors"
	"inkpass/internal/capability"
	"inkpass/internal/subscription"

	"github.com/google/uuid"
)

// AddressPrefix marks custody addresses that belong to a kiosk rather than a reader.
const AddressPrefix = "kiosk:"

// Address is the custody owner recorded on subscriptions placed in a kiosk.
func Address(kioskID uuid.UUID) string {
	return AddressPrefix + kioskID.String()
}

// Item is one subscription held in escrow. An item is only ever listed while
// escrowed; removing it from the kiosk removes its listing with it.
type Item struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Listed         bool      `json:"listed"`
	Price          uint64    `json:"price,omitempty"`
}

// Kiosk is a read-only view of an escrow container.
type Kiosk struct {
	ID      uuid.UUID `json:"id"`
	Owner   string    `json:"owner"`
	Address string    `json:"address"`
	Items   []Item    `json:"items"`
	Profits uint64    `json:"profits"`
}

// Listing is a subscription currently for sale.
type Listing struct {
	KioskID        uuid.UUID         `json:"kiosk_id"`
	Seller         string            `json:"seller"`
	SubscriptionID uuid.UUID         `json:"subscription_id"`
	PublicationID  uuid.UUID         `json:"publication_id"`
	Tier           subscription.Tier `json:"tier"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Price          uint64            `json:"price"`
	Royalty        uint64            `json:"royalty"`
	SuggestedPrice uint64            `json:"suggested_price"`
}

// Record is the stored state of a kiosk. Version counts the events the kiosk
// has emitted, so it advances by more than one when a step emits several.
type Record struct {
	ID      uuid.UUID
	Owner   string
	CapHash capability.Hash
	Items   map[uuid.UUID]Item
	Profits uint64
	Version int
}

func (k *Record) address() string {
	return Address(k.ID)
}

func (k *Record) authorize(capToken string) bool {
	return capability.Verify(capToken, k.CapHash)
}

func (k *Record) item(subID uuid.UUID) (Item, error) {
	it, ok := k.Items[subID]
	if !ok {
		return Item{}, apperrors.ErrNotFound.WithDetails("subscription %s not in kiosk %s", subID, k.ID)
	}
	return it, nil
}

func (k *Record) clone() *Record {
	c := *k
	c.Items = make(map[uuid.UUID]Item, len(k.Items))
	for id, it := range k.Items {
		c.Items[id] = it
	}
	return &c
}

func (k *Record) view() *Kiosk {
	v := &Kiosk{
		ID:      k.ID,
		Owner:   k.Owner,
		Address: k.address(),
		Items:   make([]Item, 0, len(k.Items)),
		Profits: k.Profits,
	}
	for _, it := range k.Items {
		v.Items = append(v.Items, it)
	}
	sort.Slice(v.Items, func(i, j int) bool {
		return v.Items[i].SubscriptionID.String() < v.Items[j].SubscriptionID.String()
	})
	return v
}

// Event types emitted by the marketplace.
const (
	EventKioskCreated     = "KioskCreated"
	EventItemPlaced       = "ItemPlaced"
	EventItemListed       = "ItemListed"
	EventItemDelisted     = "ItemDelisted"
	EventItemTaken        = "ItemTaken"
	EventItemPurchased    = "ItemPurchased"
	EventProfitsWithdrawn = "ProfitsWithdrawn"

	AggregateType = "kiosk"
)

// ItemEvent is the payload of place, list, delist and take events.
type ItemEvent struct {
	KioskID        uuid.UUID `json:"kiosk_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Price          uint64    `json:"price,omitempty"`
}

// ItemPurchasedEvent is published when a listed subscription changes hands.
type ItemPurchasedEvent struct {
	KioskID        uuid.UUID `json:"kiosk_id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Seller         string    `json:"seller"`
	Buyer          string    `json:"buyer"`
	Price          uint64    `json:"price"`
	Royalty        uint64    `json:"royalty"`
}

// ProfitsWithdrawnEvent is published when a kiosk owner collects sales.
type ProfitsWithdrawnEvent struct {
	KioskID uuid.UUID `json:"kiosk_id"`
	Owner   string    `json:"owner"`
	Amount  uint64    `json:"amount"`
}
