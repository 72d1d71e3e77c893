package maps

import (
	"context"
	"fmt"

	"googlemaps.github.io/maps"
)

type GoogleMapsProvider struct {
	client *maps.Client
}

func NewGoogleMapsProvider(apiKey string) (*GoogleMapsProvider, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Maps client: %w", err)
	}

	return &GoogleMapsProvider{
		client: client,
	}, nil
}

func (g *GoogleMapsProvider) Geocode(ctx context.Context, address string) (*GeocodeResponse, error) {
	req := &maps.GeocodingRequest{
		Address: address,
	}

	resp, err := g.client.Geocode(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("geocoding failed: %w", err)
	}

	results := make([]GeocodeResult, len(resp))
	for i, result := range resp {
		results[i] = GeocodeResult{
			PlaceID: result.PlaceID,
			Address: result.FormattedAddress,
			Coordinates: Location{
				Latitude:  result.Geometry.Location.Lat,
				Longitude: result.Geometry.Location.Lng,
			},
			Types: result.Types,
		}
	}

	return &GeocodeResponse{Results: results}, nil
}

func (g *GoogleMapsProvider) ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodeResponse, error) {
	req := &maps.GeocodingRequest{
		LatLng: &maps.LatLng{Lat: lat, Lng: lng},
	}

	resp, err := g.client.ReverseGeocode(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("reverse geocoding failed: %w", err)
	}

	results := make([]GeocodeResult, len(resp))
	for i, result := range resp {
		results[i] = GeocodeResult{
			PlaceID: result.PlaceID,
			Address: result.FormattedAddress,
			Coordinates: Location{
				Latitude:  result.Geometry.Location.Lat,
				Longitude: result.Geometry.Location.Lng,
			},
			Types: result.Types,
		}
	}

	return &GeocodeResponse{Results: results}, nil
}

func (g *GoogleMapsProvider) GetDirections(ctx context.Context, request *DirectionsRequest) (*DirectionsResponse, error) {
	req := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%f,%f", request.Origin.Latitude, request.Origin.Longitude),
		Destination: fmt.Sprintf("%f,%f", request.Destination.Latitude, request.Destination.Longitude),
		Mode:        maps.Mode(request.Mode),
	}

	resp, _, err := g.client.Directions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("directions request failed: %w", err)
	}

	routes := make([]Route, len(resp))
	for i, route := range resp {
		routes[i] = Route{
			Summary: route.Summary,
			Distance: Distance{
				Text:  route.Legs[0].Distance.HumanReadable,
				Value: float64(route.Legs[0].Distance.Meters),
			},
			Duration: Duration{
				Text:  route.Legs[0].Duration.String(),
				Value: int(route.Legs[0].Duration.Seconds()),
			},
			Polyline: route.OverviewPolyline.Points,
		}
	}

	return &DirectionsResponse{Routes: routes}, nil
}

func (g *GoogleMapsProvider) CalculateDistance(ctx context.Context, request *DistanceRequest) (*DistanceResponse, error) {
	origins := make([]string, len(request.Origins))
	for i, origin := range request.Origins {
		origins[i] = fmt.Sprintf("%f,%f", origin.Latitude, origin.Longitude)
	}

	destinations := make([]string, len(request.Destinations))
	for i, dest := range request.Destinations {
		destinations[i] = fmt.Sprintf("%f,%f", dest.Latitude, dest.Longitude)
	}

	req := &maps.DistanceMatrixRequest{
		Origins:      origins,
		Destinations: destinations,
		Mode:         maps.Mode(request.Mode),
		Units:        maps.Units(request.Units),
	}

	resp, err := g.client.DistanceMatrix(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("distance matrix request failed: %w", err)
	}

	rows := make([]DistanceRow, len(resp.Rows))
	for i, row := range resp.Rows {
		elements := make([]DistanceElement, len(row.Elements))
		for j, element := range row.Elements {
			elements[j] = DistanceElement{
				Distance: Distance{
					Text:  element.Distance.HumanReadable,
					Value: float64(element.Distance.Meters),
				},
				Duration: Duration{
					Text:  element.Duration.String(),
					Value: int(element.Duration.Seconds()),
				},
				Status: string(element.Status),
			}
		}
		rows[i] = DistanceRow{Elements: elements}
	}

	return &DistanceResponse{Rows: rows}, nil
}
