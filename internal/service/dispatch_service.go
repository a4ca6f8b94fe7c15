package service

import (
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stagepress/internal/db"
	"github.com/stagepress/internal/mailer"
	"github.com/stagepress/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatch outcome reasons. An empty reason means the batch ran.
const (
	ReasonDisabled         = "disabled"
	ReasonConfigIncomplete = "config-incomplete"
	ReasonNotFound         = "not-found"
	ReasonConnectFailed    = "connect-failed"
)

// DispatchFailure records one recipient that was not delivered to.
type DispatchFailure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

// DispatchResult 是一次通知批次的汇总。Success 仅在至少一封发送成功时为真。
type DispatchResult struct {
	Success  bool              `json:"success"`
	Sent     int               `json:"sent"`
	Failed   int               `json:"failed"`
	Reason   string            `json:"reason,omitempty"`
	Message  string            `json:"message"`
	Failures []DispatchFailure `json:"failures,omitempty"`
	JobID    string            `json:"jobId,omitempty"`
}

// SubscriberLister returns the active recipients in send order.
type SubscriberLister interface {
	ListActive(ctx context.Context) ([]db.Subscriber, error)
}

// TokenGenerator signs unsubscribe tokens.
type TokenGenerator interface {
	Generate(email string) (string, error)
}

// NewsletterRenderer produces the HTML and text bodies of a notification.
type NewsletterRenderer interface {
	Render(data mailer.NewsletterData) (string, string, error)
}

// TransportFactory builds a mail transport from the current settings.
type TransportFactory func(settings *db.Settings, password string) mailer.Transport

// DispatchConfig collects the collaborators of a DispatchService.
type DispatchConfig struct {
	Subscribers SubscriberLister
	Tokens      TokenGenerator
	Renderer    NewsletterRenderer
	Links       SiteLinks
	Transport   TransportFactory
	// Password decrypts the stored SMTP password.
	Password func(settings *db.Settings) (string, error)
	Metrics  *metrics.Dispatch
	Logger   *zap.Logger
}

// DispatchService 负责向活跃订阅者批量发送新文章通知。
// 每次调用只打开一个连接，按设置中的速率窗口限流。
type DispatchService struct {
	db          *gorm.DB
	subscribers SubscriberLister
	tokens      TokenGenerator
	renderer    NewsletterRenderer
	links       SiteLinks
	transport   TransportFactory
	password    func(settings *db.Settings) (string, error)
	metrics     *metrics.Dispatch
	logger      *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatchService creates a DispatchService.
func NewDispatchService(gdb *gorm.DB, cfg DispatchConfig) *DispatchService {
	s := &DispatchService{
		db:          gdb,
		subscribers: cfg.Subscribers,
		tokens:      cfg.Tokens,
		renderer:    cfg.Renderer,
		links:       cfg.Links,
		transport:   cfg.Transport,
		password:    cfg.Password,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
		sleep:       sleepContext,
	}
	if s.transport == nil {
		s.transport = SMTPTransportFactory
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// SMTPTransportFactory maps settings onto an SMTP transport.
func SMTPTransportFactory(settings *db.Settings, password string) mailer.Transport {
	return mailer.NewSMTPTransport(mailer.SMTPConfig{
		Host:     settings.SMTPHost,
		Port:     settings.SMTPPort,
		Username: settings.SMTPUsername,
		Password: password,
		From:     settings.MailFrom,
		FromName: settings.MailFromName,
		TLSMode:  settings.SMTPTLS,
	})
}

// Dispatch notifies every active subscriber about a published post.
// Configuration and lookup problems are reported through Reason; the
// returned error is reserved for storage failures.
func (s *DispatchService) Dispatch(ctx context.Context, postID uint) (*DispatchResult, error) {
	started := s.now()
	result, err := s.dispatch(ctx, postID)
	if err != nil {
		return nil, err
	}
	s.metrics.Observe(result.Reason, result.Sent, result.Failed, s.now().Sub(started))
	return result, nil
}

func (s *DispatchService) dispatch(ctx context.Context, postID uint) (*DispatchResult, error) {
	settings, err := db.LoadSettings(s.db.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	if !settings.NotifyOnPublish {
		return refused(ReasonDisabled, "notifications are disabled"), nil
	}
	if strings.TrimSpace(settings.SMTPHost) == "" || strings.TrimSpace(settings.MailFrom) == "" {
		return refused(ReasonConfigIncomplete, "mail host and sender address are required"), nil
	}

	var post db.Post
	if err := s.db.WithContext(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return refused(ReasonNotFound, "post not found"), nil
		}
		return nil, err
	}
	if !post.IsPublished() {
		return refused(ReasonNotFound, "post is not published"), nil
	}

	password := ""
	if s.password != nil {
		if password, err = s.password(settings); err != nil {
			s.logger.Error("decrypt smtp password", zap.Error(err))
			return refused(ReasonConfigIncomplete, "stored smtp password cannot be read"), nil
		}
	}

	recipients, err := s.subscribers.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return &DispatchResult{Success: true, Message: "no active subscribers"}, nil
	}

	job := &notificationJob{
		id:         uuid.NewString(),
		recipients: recipients,
		base:       s.newsletterData(settings, &post),
		subject:    mailer.Subject(settings.SiteTitle, post.Title),
		window: rateWindow{
			limit:  settings.RateLimit,
			period: time.Duration(settings.RatePeriodSeconds) * time.Second,
			start:  s.now(),
		},
		reconnect: settings.ConnectionLossPolicy != db.ConnectionLossAbort,
	}
	if settings.SendDelayMillis > 0 {
		job.delay = time.Duration(settings.SendDelayMillis) * time.Millisecond
	}

	log := s.logger.With(zap.String("job_id", job.id), zap.Uint("post_id", post.ID))
	transport := s.transport(settings, password)

	conn, err := transport.Connect(ctx)
	if err != nil {
		log.Error("mail connect failed", zap.Error(err))
		result := refused(ReasonConnectFailed, fmt.Sprintf("cannot connect to mail server: %v", err))
		result.JobID = job.id
		return result, nil
	}
	defer func() {
		if conn != nil {
			if err := conn.Close(); err != nil {
				log.Debug("mail connection close", zap.Error(err))
			}
		}
	}()

	result := &DispatchResult{JobID: job.id}
	for i, recipient := range job.recipients {
		// 两次发送之间完整停顿 delay，与速率窗口互不抵扣
		if i > 0 && job.delay > 0 {
			if err := s.sleep(ctx, job.delay); err != nil {
				result.failRemaining(job.recipients[i:], err)
				break
			}
		}
		if err := job.window.wait(ctx, s.now, s.sleep); err != nil {
			result.failRemaining(job.recipients[i:], err)
			break
		}

		msg, err := s.compose(job, recipient)
		if err != nil {
			log.Warn("compose notification", zap.String("email", recipient.Email), zap.Error(err))
			result.fail(recipient.Email, err)
			continue
		}

		err = conn.Send(ctx, msg)
		if err == nil {
			result.Sent++
			continue
		}
		log.Warn("notification send failed", zap.String("email", recipient.Email), zap.Error(err))
		result.fail(recipient.Email, err)

		if !errors.Is(err, mailer.ErrConnectionLost) {
			continue
		}
		if closeErr := conn.Close(); closeErr != nil {
			log.Debug("lost mail connection close", zap.Error(closeErr))
		}
		conn = nil
		if !job.reconnect {
			result.failRemaining(job.recipients[i+1:], errors.New("aborted after connection loss"))
			break
		}
		if conn, err = transport.Connect(ctx); err != nil {
			conn = nil
			log.Error("mail reconnect failed", zap.Error(err))
			result.failRemaining(job.recipients[i+1:], fmt.Errorf("reconnect failed: %w", err))
			break
		}
	}

	result.Success = result.Sent > 0
	result.Message = fmt.Sprintf("sent %d of %d, %d failed", result.Sent, len(job.recipients), result.Failed)
	log.Info("notification batch finished", zap.Int("sent", result.Sent), zap.Int("failed", result.Failed))
	return result, nil
}

// notificationJob is the per-call state of one batch.
type notificationJob struct {
	id         string
	recipients []db.Subscriber
	base       mailer.NewsletterData
	subject    string
	window     rateWindow
	delay      time.Duration
	reconnect  bool
}

func (s *DispatchService) newsletterData(settings *db.Settings, post *db.Post) mailer.NewsletterData {
	hero := db.ParseHeroDisplay(post.HeroOptions)
	data := mailer.NewsletterData{
		SiteTitle:  settings.SiteTitle,
		AuthorName: settings.AuthorName,
		PostTitle:  post.Title,
		PostURL:    s.links.PostURL(post.ID),
		Excerpt:    post.Excerpt,
		Intro:      htmltemplate.HTML(s.links.AbsolutizeHTML(settings.NewsletterIntroHTML)),
		FullPost:   settings.EmailFullPost,
	}
	if data.Excerpt == "" {
		data.Excerpt = BuildExcerpt(post.Body)
	}
	if data.FullPost {
		// 正文入库前已经过滤，这里只需改写相对地址
		body := s.links.AbsolutizeHTML(post.Body)
		data.Body = htmltemplate.HTML(body)
		data.BodyText = htmlToText(body)
	}
	if post.HeroImage != "" && !hero.Hidden {
		data.HeroImageURL = s.links.HeroVariant(post.HeroImage)
		data.HeroAlt = hero.Alt
		data.HeroCaption = hero.Caption
	}
	return data
}

func (s *DispatchService) compose(job *notificationJob, recipient db.Subscriber) (mailer.Message, error) {
	token, err := s.tokens.Generate(recipient.Email)
	if err != nil {
		return mailer.Message{}, fmt.Errorf("sign unsubscribe token: %w", err)
	}
	data := job.base
	data.UnsubscribeURL = s.links.UnsubscribeURL(token)

	htmlBody, textBody, err := s.renderer.Render(data)
	if err != nil {
		return mailer.Message{}, err
	}
	return mailer.Message{
		To:              recipient.Email,
		Subject:         job.subject,
		HTML:            htmlBody,
		Text:            textBody,
		ListUnsubscribe: data.UnsubscribeURL,
	}, nil
}

func refused(reason, message string) *DispatchResult {
	return &DispatchResult{Reason: reason, Message: message}
}

func (r *DispatchResult) fail(email string, err error) {
	r.Failed++
	r.Failures = append(r.Failures, DispatchFailure{Email: email, Reason: err.Error()})
}

func (r *DispatchResult) failRemaining(remaining []db.Subscriber, err error) {
	for _, recipient := range remaining {
		r.fail(recipient.Email, err)
	}
}

// rateWindow caps sends at limit per period. When the cap is reached the
// caller sleeps out the rest of the window, then a new window starts.
type rateWindow struct {
	limit  int
	period time.Duration
	count  int
	start  time.Time
}

func (w *rateWindow) wait(ctx context.Context, now func() time.Time, sleep func(context.Context, time.Duration) error) error {
	if w.limit <= 0 || w.period <= 0 {
		return nil
	}
	elapsed := now().Sub(w.start)
	if elapsed >= w.period {
		w.count = 0
		w.start = now()
	} else if w.count >= w.limit {
		if err := sleep(ctx, w.period-elapsed); err != nil {
			return err
		}
		w.count = 0
		w.start = now()
	}
	w.count++
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
