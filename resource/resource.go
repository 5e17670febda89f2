// Package resource models the records of the field-operations API and their
// write payloads. Each record type has a Fields payload with pointer
// fields so that a PATCH carries only what changed.
package resource

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/c0deZ3R0/fieldsync/merge"
	"github.com/c0deZ3R0/fieldsync/mutation"
)

// Collection paths.
const (
	CustomersPath    = "/customers"
	BuildingsPath    = "/buildings"
	FlocksPath       = "/flocks"
	VisitsPath       = "/visits"
	ObservationsPath = "/observations"
)

// ID identifies a record. The API sends identifiers as JSON strings or
// numbers; they are always encoded as strings.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("identifier %s is neither a string nor a number", data)
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Customer is a farm operation the technicians serve.
type Customer struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Archived bool   `json:"archived,omitempty"`
}

type CustomerFields struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Address  *string `json:"address,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

func (CustomerFields) Kind() string { return "customer" }

// Apply overlays the non-nil fields.
func (c Customer) Apply(f CustomerFields) Customer {
	set(&c.Name, f.Name)
	set(&c.Email, f.Email)
	set(&c.Phone, f.Phone)
	set(&c.Address, f.Address)
	set(&c.Archived, f.Archived)
	return c
}

// Building is a house or barn on a customer's site.
type Building struct {
	ID         ID     `json:"id"`
	CustomerID ID     `json:"customerId"`
	Name       string `json:"name"`
	Capacity   int    `json:"capacity,omitempty"`
	Archived   bool   `json:"archived,omitempty"`
}

type BuildingFields struct {
	CustomerID *string `json:"customerId,omitempty"`
	Name       *string `json:"name,omitempty"`
	Capacity   *int    `json:"capacity,omitempty"`
	Archived   *bool   `json:"archived,omitempty"`
}

func (BuildingFields) Kind() string { return "building" }

func (b Building) Apply(f BuildingFields) Building {
	setID(&b.CustomerID, f.CustomerID)
	set(&b.Name, f.Name)
	set(&b.Capacity, f.Capacity)
	set(&b.Archived, f.Archived)
	return b
}

// Flock is a placement of birds in a building.
type Flock struct {
	ID         ID         `json:"id"`
	BuildingID ID         `json:"buildingId"`
	Breed      string     `json:"breed,omitempty"`
	Count      int        `json:"count"`
	PlacedAt   *time.Time `json:"placedAt,omitempty"`
	Archived   bool       `json:"archived,omitempty"`
}

type FlockFields struct {
	BuildingID *string    `json:"buildingId,omitempty"`
	Breed      *string    `json:"breed,omitempty"`
	Count      *int       `json:"count,omitempty"`
	PlacedAt   *time.Time `json:"placedAt,omitempty"`
	Archived   *bool      `json:"archived,omitempty"`
}

func (FlockFields) Kind() string { return "flock" }

func (fl Flock) Apply(f FlockFields) Flock {
	setID(&fl.BuildingID, f.BuildingID)
	set(&fl.Breed, f.Breed)
	set(&fl.Count, f.Count)
	if f.PlacedAt != nil {
		at := *f.PlacedAt
		fl.PlacedAt = &at
	}
	set(&fl.Archived, f.Archived)
	return fl
}

// Visit is a scheduled or completed site visit.
type Visit struct {
	ID          ID        `json:"id"`
	CustomerID  ID        `json:"customerId"`
	ScheduledAt time.Time `json:"scheduledAt,omitzero"`
	Technician  string    `json:"technician,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Closed      bool      `json:"closed,omitempty"`
	Archived    bool      `json:"archived,omitempty"`
}

type VisitFields struct {
	CustomerID  *string    `json:"customerId,omitempty"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	Technician  *string    `json:"technician,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
	Closed      *bool      `json:"closed,omitempty"`
	Archived    *bool      `json:"archived,omitempty"`
}

func (VisitFields) Kind() string { return "visit" }

func (v Visit) Apply(f VisitFields) Visit {
	setID(&v.CustomerID, f.CustomerID)
	set(&v.ScheduledAt, f.ScheduledAt)
	set(&v.Technician, f.Technician)
	set(&v.Notes, f.Notes)
	set(&v.Closed, f.Closed)
	set(&v.Archived, f.Archived)
	return v
}

// Observation is a measurement recorded during a visit.
type Observation struct {
	ID         ID        `json:"id"`
	VisitID    ID        `json:"visitId"`
	FlockID    ID        `json:"flockId,omitempty"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Notes      string    `json:"notes,omitempty"`
	RecordedAt time.Time `json:"recordedAt,omitzero"`
}

type ObservationFields struct {
	VisitID    *string    `json:"visitId,omitempty"`
	FlockID    *string    `json:"flockId,omitempty"`
	Metric     *string    `json:"metric,omitempty"`
	Value      *float64   `json:"value,omitempty"`
	Unit       *string    `json:"unit,omitempty"`
	Notes      *string    `json:"notes,omitempty"`
	RecordedAt *time.Time `json:"recordedAt,omitempty"`
}

func (ObservationFields) Kind() string { return "observation" }

func (o Observation) Apply(f ObservationFields) Observation {
	setID(&o.VisitID, f.VisitID)
	setID(&o.FlockID, f.FlockID)
	set(&o.Metric, f.Metric)
	set(&o.Value, f.Value)
	set(&o.Unit, f.Unit)
	set(&o.Notes, f.Notes)
	set(&o.RecordedAt, f.RecordedAt)
	return o
}

func set[V any](dst *V, src *V) {
	if src != nil {
		*dst = *src
	}
}

func setID(dst *ID, src *string) {
	if src != nil {
		*dst = ID(*src)
	}
}

// Ptr returns a pointer to v, for building Fields literals.
func Ptr[V any](v V) *V { return &v }

func init() {
	mutation.Register[CustomerFields]()
	mutation.Register[BuildingFields]()
	mutation.Register[FlockFields]()
	mutation.Register[VisitFields]()
	mutation.Register[ObservationFields]()
}

// Adapters for the merge resolver.
var (
	Customers = merge.Typed[Customer, CustomerFields]{
		IDOf:  func(c Customer) string { return string(c.ID) },
		Apply: Customer.Apply,
		New:   func(id string, f CustomerFields) Customer { return Customer{ID: ID(id)}.Apply(f) },
	}
	Buildings = merge.Typed[Building, BuildingFields]{
		IDOf:  func(b Building) string { return string(b.ID) },
		Apply: Building.Apply,
		New:   func(id string, f BuildingFields) Building { return Building{ID: ID(id)}.Apply(f) },
	}
	Flocks = merge.Typed[Flock, FlockFields]{
		IDOf:  func(f Flock) string { return string(f.ID) },
		Apply: Flock.Apply,
		New:   func(id string, f FlockFields) Flock { return Flock{ID: ID(id)}.Apply(f) },
	}
	Visits = merge.Typed[Visit, VisitFields]{
		IDOf:  func(v Visit) string { return string(v.ID) },
		Apply: Visit.Apply,
		New:   func(id string, f VisitFields) Visit { return Visit{ID: ID(id)}.Apply(f) },
	}
	Observations = merge.Typed[Observation, ObservationFields]{
		IDOf:  func(o Observation) string { return string(o.ID) },
		Apply: Observation.Apply,
		New:   func(id string, f ObservationFields) Observation { return Observation{ID: ID(id)}.Apply(f) },
	}
)

// Scoped views. The owner is the parent record's identifier.
func BuildingsOf(customerID string) merge.View {
	return merge.View{Collection: BuildingsPath, Scope: merge.ScopeField("customerId", customerID)}
}

func FlocksIn(buildingID string) merge.View {
	return merge.View{Collection: FlocksPath, Scope: merge.ScopeField("buildingId", buildingID)}
}

func VisitsOf(customerID string) merge.View {
	return merge.View{Collection: VisitsPath, Scope: merge.ScopeField("customerId", customerID)}
}

func ObservationsOf(visitID string) merge.View {
	return merge.View{Collection: ObservationsPath, Scope: merge.ScopeField("visitId", visitID)}
}

// ScopeFields maps each collection to the field naming its owner.
var ScopeFields = map[string]string{
	BuildingsPath:    "customerId",
	FlocksPath:       "buildingId",
	VisitsPath:       "customerId",
	ObservationsPath: "visitId",
}
