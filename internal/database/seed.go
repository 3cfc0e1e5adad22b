package database

import (
	"context"

	"github.com/cx-tal-miterani/flight-booking-engine/internal/models"
)

// ReferenceAirlines are loaded on startup so flights can be created right away
func ReferenceAirlines() []models.Airline {
	return []models.Airline{
		{Code: "EL", Name: "El Al", Active: true},
		{Code: "LH", Name: "Lufthansa", Active: true},
		{Code: "BA", Name: "British Airways", Active: true},
		{Code: "AA", Name: "American Airlines", Active: true},
	}
}

// ReferenceAirports are loaded on startup so flights can be created right away
func ReferenceAirports() []models.Airport {
	return []models.Airport{
		{Code: "TLV", Name: "Ben Gurion", City: "Tel Aviv", Active: true},
		{Code: "JFK", Name: "John F. Kennedy", City: "New York", Active: true},
		{Code: "LHR", Name: "Heathrow", City: "London", Active: true},
		{Code: "FRA", Name: "Frankfurt am Main", City: "Frankfurt", Active: true},
		{Code: "CDG", Name: "Charles de Gaulle", City: "Paris", Active: true},
	}
}

// Seed upserts reference airlines and airports
func (s *Store) Seed(ctx context.Context, airlines []models.Airline, airports []models.Airport) error {
	for _, a := range airlines {
		if err := s.UpsertAirline(ctx, a); err != nil {
			return err
		}
	}
	for _, a := range airports {
		if err := s.UpsertAirport(ctx, a); err != nil {
			return err
		}
	}
	return nil
}
