package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/ride-tracking/internal/models"
)

// twilioDailyLimit is returned when the account hit its daily send cap.
const twilioDailyLimit = 63038

var ErrSMSNotConfigured = errors.New("twilio credentials not configured")

// SMSConfig holds the Twilio account and message settings.
type SMSConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	// AppURL is the public base of the parent tracking page.
	AppURL string
	// DevMode logs messages instead of sending them.
	DevMode bool
	// Kinds limits which notifications become texts. Empty means started,
	// midway, completed and sos.
	Kinds []models.NotificationKind
}

// SMSDispatcher texts parents through the Twilio Messages API.
type SMSDispatcher struct {
	cfg      SMSConfig
	kinds    map[models.NotificationKind]bool
	Endpoint string
	Client   *http.Client
	log      *slog.Logger
}

func NewSMSDispatcher(cfg SMSConfig, log *slog.Logger) *SMSDispatcher {
	if log == nil {
		log = slog.Default()
	}
	kinds := cfg.Kinds
	if len(kinds) == 0 {
		kinds = []models.NotificationKind{models.NotifyStarted, models.NotifyMidway, models.NotifyCompleted, models.NotifySOS}
	}
	set := make(map[models.NotificationKind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return &SMSDispatcher{
		cfg:      cfg,
		kinds:    set,
		Endpoint: "https://api.twilio.com/2010-04-01",
		Client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
	}
}

// TrackingURL is the page parents open to follow a ride.
func TrackingURL(appURL, rideID string) string {
	return strings.TrimRight(appURL, "/") + "/parent-tracking/" + rideID
}

func mapsLink(c *models.Coord) string {
	if c == nil {
		return "Location unavailable"
	}
	return fmt.Sprintf("Location: https://maps.google.com/?q=%.6f,%.6f", c.Lat, c.Lng)
}

// Message renders the text for a notification.
func (d *SMSDispatcher) Message(n models.Notification) string {
	switch n.Kind {
	case models.NotifyStarted:
		return fmt.Sprintf("🚗 Ride Started: Your child's ride with driver %s has begun! Track live: %s", n.DriverName, TrackingURL(d.cfg.AppURL, n.RideID))
	case models.NotifyMidway:
		return fmt.Sprintf("📍 Ride Update: Driver %s is halfway to the destination. Ride ID: %s", n.DriverName, n.RideID)
	case models.NotifyCompleted:
		return fmt.Sprintf("✅ Ride Completed: Your child's ride with driver %s has been completed safely. Ride ID: %s", n.DriverName, n.RideID)
	case models.NotifyCheckpoint:
		return fmt.Sprintf("📍 Ride Update: Driver %s reached %s. Ride ID: %s", n.DriverName, n.Checkpoint, n.RideID)
	case models.NotifySOS:
		return fmt.Sprintf("🚨 EMERGENCY ALERT 🚨\n\nYour child's driver (%s) has triggered an SOS alert!\n\nRide ID: %s\n%s\n\nPlease check on them immediately or contact emergency services if needed.", n.DriverName, n.RideID, mapsLink(n.Position))
	default:
		return "Ride update for " + n.RideID
	}
}

// Notify sends one text per recipient and joins the failures.
func (d *SMSDispatcher) Notify(ctx context.Context, n models.Notification) error {
	if !d.kinds[n.Kind] {
		return nil
	}
	if len(n.Recipients) == 0 {
		d.log.Warn("no parent numbers for ride", "ride_id", n.RideID, "kind", n.Kind)
		return nil
	}
	body := d.Message(n)
	if d.cfg.DevMode {
		for _, to := range n.Recipients {
			d.log.Info("sms dev mode", "ride_id", n.RideID, "kind", n.Kind, "to", to, "message", body)
		}
		return nil
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" || d.cfg.From == "" {
		return ErrSMSNotConfigured
	}
	var errs []error
	for _, to := range n.Recipients {
		sid, err := d.send(ctx, to, body)
		if err != nil {
			errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
			continue
		}
		d.log.Info("sms sent", "ride_id", n.RideID, "kind", n.Kind, "sid", sid)
	}
	return errors.Join(errs...)
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (d *SMSDispatcher) send(ctx context.Context, to, body string) (string, error) {
	form := url.Values{"To": {to}, "From": {d.cfg.From}, "Body": {body}}
	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", strings.TrimRight(d.Endpoint, "/"), d.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(d.cfg.AccountSID, d.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	var out twilioResponse
	_ = json.Unmarshal(raw, &out)
	if resp.StatusCode >= 300 {
		if out.Code == twilioDailyLimit {
			d.log.Warn("twilio daily limit reached, enable SMS_DEV_MODE for testing")
		}
		if out.Message == "" {
			out.Message = resp.Status
		}
		return "", fmt.Errorf("twilio: %s", out.Message)
	}
	return out.SID, nil
}
