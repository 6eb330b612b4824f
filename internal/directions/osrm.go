package directions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

// OSRMClient turns OSRM route steps into readable instructions.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMClient(endpoint string) *OSRMClient {
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 5 * time.Second}}
}

type osrmStep struct {
	Name     string `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier"`
	} `json:"maneuver"`
}

type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Legs []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Directions queries /route/v1/driving with steps enabled.
func (o *OSRMClient) Directions(ctx context.Context, from, to models.Coord) ([]string, error) {
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?steps=true&overview=false", o.Endpoint, from.Lng, from.Lat, to.Lng, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := o.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("osrm status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("osrm decode: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 || len(out.Routes[0].Legs) == 0 {
		return nil, fmt.Errorf("%w: osrm code %q", ErrNoRoute, out.Code)
	}
	steps := out.Routes[0].Legs[0].Steps
	if len(steps) == 0 {
		return nil, ErrNoRoute
	}
	instructions := make([]string, 0, len(steps))
	for _, s := range steps {
		instructions = append(instructions, instruction(s))
	}
	return instructions, nil
}

func instruction(s osrmStep) string {
	street := s.Name
	if street == "" {
		street = "unnamed road"
	}
	mod := s.Maneuver.Modifier
	switch s.Maneuver.Type {
	case "depart":
		return squash(fmt.Sprintf("Head %s on %s", mod, street))
	case "arrive":
		return "You have arrived at your destination"
	case "turn":
		return squash(fmt.Sprintf("Turn %s onto %s", mod, street))
	case "merge":
		return squash(fmt.Sprintf("Merge %s onto %s", mod, street))
	case "roundabout", "rotary":
		return "Take the roundabout and exit onto " + street
	case "continue":
		return "Continue on " + street
	default:
		return squash(fmt.Sprintf("%s %s on %s", s.Maneuver.Type, mod, street))
	}
}

// squash collapses the double space left by an empty modifier.
func squash(s string) string { return strings.Join(strings.Fields(s), " ") }
