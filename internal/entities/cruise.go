package entities

import (
	"time"
)

// CruiseLine is a source-assigned cruise line. Rows are created on first
// sighting and only the name is refreshed afterwards; lines are never deleted.
type CruiseLine struct {
	ID        uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string    `gorm:"size:256" json:"name"`
	Code      string    `gorm:"size:50" json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ship belongs to exactly one CruiseLine. Descriptive attributes are all
// optional in the source feed.
type Ship struct {
	ID        uint       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	LineID    uint       `gorm:"index" json:"line_id"`
	Name      string     `gorm:"size:256" json:"name"`
	Tonnage   *int       `json:"tonnage,omitempty"`
	Capacity  *int       `json:"capacity,omitempty"`
	Decks     *int       `json:"decks,omitempty"`
	LaunchedY *int       `gorm:"column:launched_year" json:"launched_year,omitempty"`
	Line      CruiseLine `gorm:"foreignKey:LineID" json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Port is created on demand the first time its id is referenced. Ports are
// referenced historically and are never deleted.
type Port struct {
	ID        uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string    `gorm:"size:256" json:"name"`
	Code      string    `gorm:"size:50" json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Region struct {
	ID        uint      `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Name      string    `gorm:"size:256" json:"name"`
	Code      string    `gorm:"size:50" json:"code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Sailing is one specific departure. CodeToCruiseID is the source's
// per-departure identifier and the natural key; CruiseID is the broader cruise
// product identifier, which repeats across sailings of the same itinerary and
// must never be used for uniqueness.
type Sailing struct {
	CodeToCruiseID  uint       `gorm:"primaryKey;autoIncrement:false" json:"code_to_cruise_id"`
	CruiseID        uint       `gorm:"index" json:"cruise_id"`
	LineID          uint       `gorm:"index" json:"line_id"`
	ShipID          uint       `gorm:"index" json:"ship_id"`
	Name            string     `gorm:"size:512" json:"name"`
	SailingDate     *time.Time `gorm:"index" json:"sailing_date,omitempty"`
	Nights          *int       `json:"nights,omitempty"`
	EmbarkPortID    *uint      `json:"embark_port_id,omitempty"`
	DisembarkPortID *uint      `json:"disembark_port_id,omitempty"`

	InteriorPrice  *float64 `json:"interior_price,omitempty"`
	OceanviewPrice *float64 `json:"oceanview_price,omitempty"`
	BalconyPrice   *float64 `json:"balcony_price,omitempty"`
	SuitePrice     *float64 `json:"suite_price,omitempty"`
	CheapestPrice  *float64 `gorm:"index" json:"cheapest_price,omitempty"`
	Currency       string   `gorm:"size:3" json:"currency,omitempty"`

	RawJSON      string    `gorm:"type:text" json:"-"`
	Active       bool      `gorm:"index;default:true" json:"active"`
	LastSyncedAt time.Time `json:"last_synced_at"`

	Line CruiseLine `gorm:"foreignKey:LineID" json:"-"`
	Ship Ship       `gorm:"foreignKey:ShipID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SailingRegion links a sailing to one of its regions, ordered by Position.
type SailingRegion struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	CodeToCruiseID uint `gorm:"index" json:"code_to_cruise_id"`
	RegionID       uint `gorm:"index" json:"region_id"`
	Position       int  `json:"position"`
}

// SailingPort links a sailing to one of its visited ports, ordered by Position.
type SailingPort struct {
	ID             uint `gorm:"primaryKey" json:"id"`
	CodeToCruiseID uint `gorm:"index" json:"code_to_cruise_id"`
	PortID         uint `gorm:"index" json:"port_id"`
	Position       int  `json:"position"`
}

// ItineraryDay is one day of a sailing's itinerary. The source always supplies
// the full itinerary per record, so rows are replaced wholesale on update.
type ItineraryDay struct {
	ID             uint   `gorm:"primaryKey" json:"id"`
	CodeToCruiseID uint   `gorm:"index" json:"code_to_cruise_id"`
	DayNumber      int    `json:"day_number"`
	PortName       string `gorm:"size:256" json:"port_name"`
	PortID         *uint  `json:"port_id,omitempty"`
	ArriveTime     string `gorm:"size:10" json:"arrive_time,omitempty"`
	DepartTime     string `gorm:"size:10" json:"depart_time,omitempty"`
}

// PriceSnapshot captures a sailing's cabin-class prices immediately before an
// update overwrites them. Snapshots are append-only: never updated, never
// deleted. For a sailing the rows ordered by CapturedAt form its price history.
type PriceSnapshot struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CodeToCruiseID uint      `gorm:"index" json:"code_to_cruise_id"`
	InteriorPrice  *float64  `json:"interior_price,omitempty"`
	OceanviewPrice *float64  `json:"oceanview_price,omitempty"`
	BalconyPrice   *float64  `json:"balcony_price,omitempty"`
	SuitePrice     *float64  `json:"suite_price,omitempty"`
	CheapestPrice  *float64  `json:"cheapest_price,omitempty"`
	Currency       string    `gorm:"size:3" json:"currency,omitempty"`
	CapturedAt     time.Time `gorm:"index" json:"captured_at"`
}

func (CruiseLine) TableName() string {
	return "cruise_lines"
}

func (Ship) TableName() string {
	return "ships"
}

func (Port) TableName() string {
	return "ports"
}

func (Region) TableName() string {
	return "regions"
}

func (Sailing) TableName() string {
	return "sailings"
}

func (SailingRegion) TableName() string {
	return "sailing_regions"
}

func (SailingPort) TableName() string {
	return "sailing_ports"
}

func (ItineraryDay) TableName() string {
	return "itinerary_days"
}

func (PriceSnapshot) TableName() string {
	return "price_snapshots"
}
