package directions

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"googlemaps.github.io/maps"

	"github.com/example/ride-tracking/internal/models"
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// GoogleProvider reads driving steps from the Google Maps Directions API.
type GoogleProvider struct {
	client *maps.Client
}

// NewGoogleProvider creates a provider with the given API key. Extra client
// options (e.g. maps.WithBaseURL) are passed through.
func NewGoogleProvider(apiKey string, opts ...maps.ClientOption) (*GoogleProvider, error) {
	client, err := maps.NewClient(append([]maps.ClientOption{maps.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func (g *GoogleProvider) Directions(ctx context.Context, from, to models.Coord) ([]string, error) {
	r := &maps.DirectionsRequest{
		Origin:      fmt.Sprintf("%.6f,%.6f", from.Lat, from.Lng),
		Destination: fmt.Sprintf("%.6f,%.6f", to.Lat, to.Lng),
		Mode:        maps.TravelModeDriving,
	}
	routes, _, err := g.client.Directions(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 || len(routes[0].Legs[0].Steps) == 0 {
		return nil, ErrNoRoute
	}
	steps := routes[0].Legs[0].Steps
	out := make([]string, 0, len(steps)+1)
	for _, s := range steps {
		out = append(out, plainText(s.HTMLInstructions))
	}
	return append(out, "You have arrived at your destination"), nil
}

func plainText(s string) string {
	return strings.Join(strings.Fields(html.UnescapeString(tagPattern.ReplaceAllString(s, " "))), " ")
}
