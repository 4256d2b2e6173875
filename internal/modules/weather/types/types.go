package types

import "time"

// TimestampLayout is the stored form of Observation.Timestamp. It is fixed
// width, so string order matches time order.
const TimestampLayout = "2006-01-02T15:04:05Z"

// Observation is one archived weather record, unique by Timestamp.
type Observation struct {
	ID            int64     `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Temperature   *float64  `json:"temperature,omitempty"`
	AirHumidity   *float64  `json:"airHumidity,omitempty"`
	DewPoint      *float64  `json:"dewPoint,omitempty"`
	AtmPressure   *float64  `json:"atmPressure,omitempty"`
	AirDirection  *string   `json:"airDirection,omitempty"`
	AirSpeed      *float64  `json:"airSpeed,omitempty"`
	Cloudiness    *float64  `json:"cloudiness,omitempty"`
	H             *float64  `json:"h,omitempty"`
	VV            *float64  `json:"vv,omitempty"`
	WeatherEvents *string   `json:"weatherEvents,omitempty"`
}

// Assign overwrites every field of o except ID with the values from src,
// including nil over non-nil. Add new columns here as well as to the store.
func (o *Observation) Assign(src Observation) {
	o.Timestamp = src.Timestamp
	o.Temperature = src.Temperature
	o.AirHumidity = src.AirHumidity
	o.DewPoint = src.DewPoint
	o.AtmPressure = src.AtmPressure
	o.AirDirection = src.AirDirection
	o.AirSpeed = src.AirSpeed
	o.Cloudiness = src.Cloudiness
	o.H = src.H
	o.VV = src.VV
	o.WeatherEvents = src.WeatherEvents
}

// Key is the reconciliation key: the timestamp truncated to seconds in UTC.
func (o Observation) Key() string {
	return o.Timestamp.UTC().Format(TimestampLayout)
}

// Filter selects an archive page. Zero Page or PageSize means the default.
type Filter struct {
	Year     *int
	Month    *int
	Page     int
	PageSize int
}

type Page struct {
	Items      []Observation `json:"items"`
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	TotalCount int           `json:"totalCount"`
	TotalPages int           `json:"totalPages"`
	HasPrev    bool          `json:"hasPrev"`
	HasNext    bool          `json:"hasNext"`
}

// YearBounds is the span of years present in the archive.
type YearBounds struct {
	Min   int  `json:"min"`
	Max   int  `json:"max"`
	Empty bool `json:"empty"`
}
