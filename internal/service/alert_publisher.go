package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/student-risk-api/internal/middleware"
	"github.com/noah-isme/student-risk-api/internal/observability"
)

// AlertEventType tags every published alert.
const AlertEventType = "risk.alert"

// RiskAlert is the event fanned out for a high-risk assessment.
type RiskAlert struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	RequestID  string    `json:"request_id,omitempty"`
	StudentID  string    `json:"student_id,omitempty"`
	RiskScore  float64   `json:"risk_score"`
	RiskLevel  string    `json:"risk_level"`
	TopFactors []string  `json:"top_factors"`
	SentAt     time.Time `json:"sent_at"`
}

// AlertPublisher fans out high-risk alerts. Implementations never fail the caller.
type AlertPublisher interface {
	Publish(ctx context.Context, alert RiskAlert)
}

type alertPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	nodeID       string
}

// NewAlertPublisher publishes to a Redis channel and a NATS subject derived from
// channelBase. Either transport may be nil.
func NewAlertPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) AlertPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":alerts"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".alerts"
	}

	return &alertPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "alert_publisher").Logger(),
		nodeID:       uuid.NewString(),
	}
}

func (p *alertPublisher) Publish(ctx context.Context, alert RiskAlert) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	alert.Type = AlertEventType
	alert.Source = p.nodeID
	if alert.RequestID == "" {
		alert.RequestID = middleware.RequestIDFromContext(ctx)
	}
	if alert.SentAt.IsZero() {
		alert.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		p.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to encode risk alert")
		return
	}

	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			p.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to publish risk alert to redis")
		} else {
			observability.AlertsPublished().WithLabelValues("redis").Inc()
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			p.logger.Warn().Err(err).Str("alert_id", alert.ID).Msg("failed to publish risk alert to nats")
		} else {
			observability.AlertsPublished().WithLabelValues("nats").Inc()
		}
	}
}

type noopAlertPublisher struct{}

func (noopAlertPublisher) Publish(context.Context, RiskAlert) {}
