package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Admsmartfit/academia-sub000/internal/logger"
	"github.com/Admsmartfit/academia-sub000/internal/metrics"
)

const (
	queueKey  = "notifications"
	failedKey = "notifications:failed"

	maxTries = 3
)

// Recipient is the minimum the core knows about a message target.
type Recipient struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// Notifier is the outbound port the domain services depend on. Sends are
// best-effort: they run after the transaction that produced them has
// committed, and a failure never reverts that state change.
type Notifier interface {
	SendTemplated(ctx context.Context, to Recipient, templateKey string, vars map[string]string) error
}

type Job struct {
	CorrelationID string            `json:"correlation_id"`
	To            Recipient         `json:"to"`
	TemplateKey   string            `json:"template_key"`
	Vars          map[string]string `json:"vars"`
	Tries         int               `json:"tries"`
	Created       time.Time         `json:"created"`
}

// Service queues templated notifications on redis and drains the queue to
// smtp on a background worker.
type Service struct {
	redis    *redis.Client
	from     string
	fromName string
	smtpHost string
	smtpPort string
	smtpUser string
	smtpPass string
}

func New(fromEmail, fromName, smtpHost, smtpPort, smtpUser, smtpPass, redisAddr string) *Service {
	return &Service{
		redis: redis.NewClient(&redis.Options{
			Addr: redisAddr,
		}),
		from:     fromEmail,
		fromName: fromName,
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		smtpUser: smtpUser,
		smtpPass: smtpPass,
	}
}

// NewWithClient is used by tests to inject a redis mock.
func NewWithClient(client *redis.Client, fromEmail, fromName string) *Service {
	return &Service{redis: client, from: fromEmail, fromName: fromName}
}

func (s *Service) SendTemplated(ctx context.Context, to Recipient, templateKey string, vars map[string]string) error {
	if _, ok := templates[templateKey]; !ok {
		return fmt.Errorf("unknown notification template %q", templateKey)
	}

	job := Job{
		CorrelationID: uuid.NewString(),
		To:            to,
		TemplateKey:   templateKey,
		Vars:          vars,
		Created:       time.Now(),
	}

	data, err := json.Marshal(job)
	if err != nil {
		logger.Errorf("Failed to marshal notification job: %v", err)
		return err
	}

	if err := s.redis.LPush(ctx, queueKey, data).Err(); err != nil {
		logger.Errorf("Failed to queue %s to %s [%s]: %v", templateKey, to.Email, job.CorrelationID, err)
		metrics.NotificationsSentTotal.WithLabelValues(templateKey, "queue_error").Inc()
		return err
	}

	logger.Infof("Notification queued: %s to user %d [%s]", templateKey, to.UserID, job.CorrelationID)
	return nil
}

// Start drains the queue until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	logger.Info("Notification worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Notification worker stopped")
			return
		default:
			s.processNext(ctx)
		}
	}
}

func (s *Service) processNext(ctx context.Context) {
	result, err := s.redis.BRPop(ctx, 2*time.Second, queueKey).Result()
	if err != nil {
		return
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		logger.Errorf("Bad notification data: %v", err)
		return
	}

	job.Tries++
	if err := s.sendNow(job); err != nil {
		logger.Errorf("Failed to send %s to %s [%s]: %v", job.TemplateKey, job.To.Email, job.CorrelationID, err)

		if job.Tries < maxTries {
			time.Sleep(5 * time.Second)
			data, _ := json.Marshal(job)
			s.redis.LPush(context.Background(), queueKey, data)
		} else {
			metrics.NotificationsSentTotal.WithLabelValues(job.TemplateKey, "failed").Inc()
			s.saveFailed(job, err)
		}
		return
	}

	metrics.NotificationsSentTotal.WithLabelValues(job.TemplateKey, "sent").Inc()
	logger.Infof("Notification sent: %s to user %d [%s]", job.TemplateKey, job.To.UserID, job.CorrelationID)
}

// Render substitutes {var} placeholders into the template.
func Render(templateKey string, to Recipient, vars map[string]string) (subject, body string, err error) {
	tpl, ok := templates[templateKey]
	if !ok {
		return "", "", fmt.Errorf("unknown notification template %q", templateKey)
	}

	body = tpl.Body
	body = strings.ReplaceAll(body, "{name}", to.Name)
	for k, v := range vars {
		body = strings.ReplaceAll(body, "{"+k+"}", v)
	}

	return tpl.Subject, body, nil
}

func (s *Service) sendNow(job Job) error {
	subject, body, err := Render(job.TemplateKey, job.To, job.Vars)
	if err != nil {
		return err
	}

	message := fmt.Sprintf("From: %s <%s>\r\n", s.fromName, s.from)
	message += fmt.Sprintf("To: %s\r\n", job.To.Email)
	message += fmt.Sprintf("Subject: %s\r\n", subject)
	message += "\r\n" + body

	var auth smtp.Auth
	if s.smtpUser != "" && s.smtpPass != "" {
		auth = smtp.PlainAuth("", s.smtpUser, s.smtpPass, s.smtpHost)
	}

	addr := s.smtpHost + ":" + s.smtpPort
	return smtp.SendMail(addr, auth, s.from, []string{job.To.Email}, []byte(message))
}

func (s *Service) saveFailed(job Job, err error) {
	failed := map[string]interface{}{
		"job":   job,
		"error": err.Error(),
		"time":  time.Now(),
	}
	data, _ := json.Marshal(failed)
	s.redis.LPush(context.Background(), failedKey, data)
	logger.Errorf("Notification moved to failed queue: %s [%s]", job.To.Email, job.CorrelationID)
}

func (s *Service) QueueLength(ctx context.Context) int64 {
	length, _ := s.redis.LLen(ctx, queueKey).Result()
	metrics.NotificationQueueLength.Set(float64(length))
	return length
}

func (s *Service) Close() error {
	return s.redis.Close()
}
