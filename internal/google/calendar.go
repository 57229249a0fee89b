package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"kajabook/internal/config"
	"kajabook/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const meetSolution = "hangoutsMeet"

// CalendarScheduler creates Google Calendar events with a Meet conference
// attached, one per confirmed lesson.
type CalendarScheduler struct {
	service    *calendar.Service
	calendarID string
	loc        *time.Location
}

func NewCalendarScheduler(ctx context.Context, cfg config.GoogleConfig, loc *time.Location) (*CalendarScheduler, error) {
	var opts []option.ClientOption

	switch {
	case cfg.CredentialsFile != "":
		// Сервисный аккаунт
		credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("unable to read credentials file: %w", err)
		}
		jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarEventsScope)
		if err != nil {
			return nil, fmt.Errorf("unable to parse credentials: %w", err)
		}
		opts = append(opts, option.WithHTTPClient(jwtConfig.Client(ctx)))
	case cfg.RefreshToken != "":
		// Один организатор с refresh token
		oauthConfig := &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{calendar.CalendarEventsScope},
		}
		opts = append(opts, option.WithHTTPClient(oauthConfig.Client(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})))
	default:
		return nil, errors.New("google: credentials_file or refresh_token is required")
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Calendar service: %w", err)
	}
	return newCalendarScheduler(srv, cfg.CalendarID, loc), nil
}

func newCalendarScheduler(srv *calendar.Service, calendarID string, loc *time.Location) *CalendarScheduler {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarScheduler{service: srv, calendarID: calendarID, loc: loc}
}

// ScheduleMeeting inserts the event without e-mailing attendees; the Meet
// link is handed out by the booking itself.
func (s *CalendarScheduler) ScheduleMeeting(ctx context.Context, b *models.Booking, slot *models.Slot) (*models.MeetingInfo, error) {
	start, err := models.SlotStart(slot, s.loc)
	if err != nil {
		return nil, err
	}
	end := start.Add(time.Duration(b.DurationMin) * time.Minute)

	event := &calendar.Event{
		Summary:     lessonSummary(b),
		Description: fmt.Sprintf("Booking code: %s", b.Code),
		Start:       &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: s.loc.String()},
		End:         &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: s.loc.String()},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             b.ID,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: meetSolution},
			},
		},
	}
	if b.Email != "" {
		event.Attendees = []*calendar.EventAttendee{{Email: b.Email}}
	}

	created, err := s.service.Events.Insert(s.calendarID, event).
		ConferenceDataVersion(1).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("google calendar: insert event: %w", err)
	}
	if created.Id == "" {
		return nil, errors.New("google calendar: missing event id")
	}
	if created.HangoutLink == "" {
		// Событие без ссылки никому не нужно, убираем его
		if derr := s.CancelMeeting(ctx, created.Id); derr != nil {
			return nil, fmt.Errorf("google calendar: missing Meet link, cleanup failed: %w", derr)
		}
		return nil, errors.New("google calendar: missing Meet link")
	}

	return &models.MeetingInfo{
		Provider: models.MeetingProviderGoogleMeet,
		MeetURL:  created.HangoutLink,
		EventID:  created.Id,
		HTMLLink: created.HtmlLink,
	}, nil
}

func (s *CalendarScheduler) CancelMeeting(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	err := s.service.Events.Delete(s.calendarID, eventID).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("google calendar: delete event %s: %w", eventID, err)
	}
	return nil
}

func lessonSummary(b *models.Booking) string {
	if b.Name == "" {
		return fmt.Sprintf("Korean lesson (%d min)", b.DurationMin)
	}
	return fmt.Sprintf("Korean lesson with %s (%d min)", b.Name, b.DurationMin)
}
