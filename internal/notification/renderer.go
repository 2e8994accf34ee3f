package notification

import (
	"fmt"
	"time"

	"leadflow_backend/internal/email"
)

const (
	subjectInvitation  = "Schedule your introduction call"
	subjectFollowup    = "Still interested? Pick a time that suits you"
	subjectReminder24h = "Reminder: your meeting is tomorrow"
	subjectReminder1h  = "Reminder: your meeting starts in one hour"
)

const meetingTimeFormat = "Monday, 2 January 2006 at 15:04"

// RenderInvitation renders the initial scheduling invitation for a channel.
func RenderInvitation(channel Channel, to, leadName, schedulingURL string) (Message, error) {
	if channel == ChannelSMS {
		return Message{
			Channel: channel,
			To:      to,
			Body:    fmt.Sprintf("Hi %s, thanks for reaching out! Book your introduction call here: %s", leadName, schedulingURL),
		}, nil
	}

	body, err := email.RenderNotification(email.NotificationData{
		Title:   subjectInvitation,
		Heading: fmt.Sprintf("Hi %s,", leadName),
		BodyLines: []string{
			"Thanks for reaching out. We'd love to talk with you.",
			"Pick a time that works for you using the button below.",
		},
		CTALabel: "Schedule a call",
		CTAURL:   schedulingURL,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: channel, To: to, Subject: subjectInvitation, Body: body}, nil
}

// RenderFollowup renders the 24h follow-up nudge.
func RenderFollowup(channel Channel, to, leadName, schedulingURL string) (Message, error) {
	if channel == ChannelSMS {
		return Message{
			Channel: channel,
			To:      to,
			Body:    fmt.Sprintf("Hi %s, just checking in. You can still book your call here: %s", leadName, schedulingURL),
		}, nil
	}

	body, err := email.RenderNotification(email.NotificationData{
		Title:   subjectFollowup,
		Heading: fmt.Sprintf("Hi %s,", leadName),
		BodyLines: []string{
			"We noticed you haven't scheduled your call yet.",
			"No pressure; the link below stays valid if you'd like to pick a time.",
		},
		CTALabel: "Schedule a call",
		CTAURL:   schedulingURL,
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: channel, To: to, Subject: subjectFollowup, Body: body}, nil
}

// RenderMeetingReminder renders a meeting reminder for the given offset.
func RenderMeetingReminder(channel Channel, to, leadName string, startTime time.Time, offset time.Duration) (Message, error) {
	subject := subjectReminder24h
	window := "tomorrow"
	if offset <= time.Hour {
		subject = subjectReminder1h
		window = "in one hour"
	}

	when := startTime.Format(meetingTimeFormat)

	if channel == ChannelSMS {
		return Message{
			Channel: channel,
			To:      to,
			Body:    fmt.Sprintf("Hi %s, a reminder that your meeting is %s (%s). See you then!", leadName, window, when),
		}, nil
	}

	body, err := email.RenderNotification(email.NotificationData{
		Title:   subject,
		Heading: fmt.Sprintf("Hi %s,", leadName),
		BodyLines: []string{
			fmt.Sprintf("This is a reminder that your meeting is %s.", window),
			fmt.Sprintf("Scheduled for %s.", when),
		},
	})
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: channel, To: to, Subject: subject, Body: body}, nil
}
