package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is a customer position plus the free-text address they confirmed.
type Location struct {
	Coord
	Address  string  `json:"address"`
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Driver is a roster entry as held by the driver directory.
// Available and ManuallyOnline are operator intent only; whether the driver
// is busy is derived from assignments and never written back here.
type Driver struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Phone          string       `json:"phone"`
	Loc            Coord        `json:"loc"`
	Available      bool         `json:"available"`
	ManuallyOnline bool         `json:"manuallyOnline"`
	Rating         float64      `json:"rating"` // 0..5
	VehicleType    string       `json:"vehicleType"`
	ServiceType    string       `json:"serviceType"` // towing, repair, both
	BasePrice      int          `json:"basePrice"`
	MaxRadiusKm    float64      `json:"maxRadiusKm"`
	ServiceAreas   []string     `json:"serviceAreas"`
	WorkingHours   WorkingHours `json:"workingHours,omitempty"`
	Archived       bool         `json:"archived"`
	Updated        time.Time    `json:"updated"`
}

// RankedDriver is a roster entry annotated for one matching request.
type RankedDriver struct {
	Driver
	DistanceKm float64 `json:"distanceKm"`
	ETAMinutes int     `json:"etaMinutes"`
	Cell       string  `json:"cell"`
}

// DriverSnapshot keeps the display fields of the chosen driver on the
// assignment row so it stays readable after the driver is archived.
type DriverSnapshot struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	VehicleType string `json:"vehicleType"`
}

type Assignment struct {
	ID           string         `json:"id"`
	HelpID       string         `json:"helpId"`
	HelpCode     string         `json:"helpCode"`
	DriverID     string         `json:"driverId"`
	Driver       DriverSnapshot `json:"driverSnapshot"`
	UserLocation Location       `json:"userLocation"`
	UserPhone    string         `json:"userPhone,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Status       Status         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// AssignmentView is what the admin dashboard lists: the row plus the driver
// display fields resolved at read time.
type AssignmentView struct {
	Assignment
	DriverName    string `json:"driverName"`
	DriverPhone   string `json:"driverPhone"`
	DriverVehicle string `json:"driverVehicle"`
	DriverDeleted bool   `json:"driverDeleted"`
}
