package inventory

import (
	_ "embed"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/travelcore/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var (
	ErrItemNotFound = errors.New("inventory item not found")
	ErrOutOfStock   = errors.New("item is out of stock")
)

type Flight struct {
	ID             string          `json:"id" yaml:"id"`
	From           string          `json:"from" yaml:"from"`
	To             string          `json:"to" yaml:"to"`
	Airline        string          `json:"airline" yaml:"airline"`
	Class          string          `json:"class" yaml:"class"`
	Price          decimal.Decimal `json:"price" yaml:"price"`
	Currency       string          `json:"currency" yaml:"currency"`
	DepartureTime  string          `json:"departureTime" yaml:"departureTime"`
	AvailableSeats int             `json:"availableSeats" yaml:"availableSeats"`
}

type Hotel struct {
	ID             string          `json:"id" yaml:"id"`
	City           string          `json:"city" yaml:"city"`
	Name           string          `json:"name" yaml:"name"`
	Type           string          `json:"type" yaml:"type"`
	PricePerNight  decimal.Decimal `json:"pricePerNight" yaml:"pricePerNight"`
	Currency       string          `json:"currency" yaml:"currency"`
	AvailableRooms int             `json:"availableRooms" yaml:"availableRooms"`
}

// Item is the bookable view of a flight or hotel: its price and one stock counter.
type Item struct {
	ID       string             `json:"id"`
	Type     domain.BookingType `json:"type"`
	Price    decimal.Decimal    `json:"price"`
	Currency string             `json:"currency"`
	Stock    int                `json:"stock"`
}

type Catalog struct {
	Flights []Flight `yaml:"flights"`
	Hotels  []Hotel  `yaml:"hotels"`
}

// LoadCatalog parses a YAML catalog and rejects duplicate ids and negative stock.
func LoadCatalog(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	seen := map[string]bool{}
	for _, it := range c.Items() {
		if it.ID == "" {
			return Catalog{}, errors.New("catalog item without id")
		}
		if seen[it.ID] {
			return Catalog{}, fmt.Errorf("duplicate catalog item %s", it.ID)
		}
		if it.Stock < 0 {
			return Catalog{}, fmt.Errorf("catalog item %s has negative stock", it.ID)
		}
		seen[it.ID] = true
	}
	return c, nil
}

// DefaultCatalog is the built-in seed inventory.
func DefaultCatalog() Catalog {
	c, err := LoadCatalog(defaultCatalog)
	if err != nil {
		panic(err)
	}
	return c
}

// Items flattens the catalog, flights first.
func (c Catalog) Items() []Item {
	out := make([]Item, 0, len(c.Flights)+len(c.Hotels))
	for _, f := range c.Flights {
		out = append(out, Item{ID: f.ID, Type: domain.BookingFlight, Price: f.Price, Currency: currencyOr(f.Currency), Stock: f.AvailableSeats})
	}
	for _, h := range c.Hotels {
		out = append(out, Item{ID: h.ID, Type: domain.BookingHotel, Price: h.PricePerNight, Currency: currencyOr(h.Currency), Stock: h.AvailableRooms})
	}
	return out
}

func currencyOr(c string) string {
	if c == "" {
		return domain.DefaultCurrency
	}
	return c
}

func (c Catalog) clone() Catalog {
	return Catalog{
		Flights: append([]Flight(nil), c.Flights...),
		Hotels:  append([]Hotel(nil), c.Hotels...),
	}
}
