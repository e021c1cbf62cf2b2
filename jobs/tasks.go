package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeLowStockEmail is the task type for low-stock alert mails.
	TaskTypeLowStockEmail = "stock:low_stock_email"
)

// LowStockEmailPayload describes a low-stock alert to deliver.
type LowStockEmailPayload struct {
	EventID    string    `json:"event_id"`
	To         string    `json:"to"`
	ProductID  int64     `json:"product_id"`
	StoreID    int64     `json:"store_id"`
	StoreName  string    `json:"store_name"`
	Quantity   int64     `json:"quantity"`
	MinStock   int64     `json:"min_stock"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewLowStockEmailTask constructs an Asynq task for a low-stock alert.
func NewLowStockEmailTask(payload LowStockEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockEmail, data, asynq.Queue(QueueDefault)), nil
}

// MailSender delivers low-stock alerts.
type MailSender struct {
	logger *slog.Logger
	addr   string
	from   string
	pt     *message.Printer
}

// NewMailSender constructs the sender. host:port is the SMTP endpoint.
func NewMailSender(logger *slog.Logger, host string, port int, from string) *MailSender {
	return &MailSender{
		logger: logger,
		addr:   fmt.Sprintf("%s:%d", host, port),
		from:   from,
		pt:     message.NewPrinter(language.BrazilianPortuguese),
	}
}

// HandleLowStockEmailTask processes TaskTypeLowStockEmail tasks.
func (m *MailSender) HandleLowStockEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload LowStockEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.To == "" {
		m.logger.Warn("low stock alert without recipient",
			slog.Int64("product_id", payload.ProductID),
			slog.Int64("store_id", payload.StoreID))
		return nil
	}
	subject := m.pt.Sprintf("Estoque baixo: produto %d em %s", payload.ProductID, payload.StoreName)
	body := m.pt.Sprintf(
		"O produto %d na loja %s atingiu %d unidades (mínimo configurado: %d) em %s.",
		payload.ProductID, payload.StoreName, payload.Quantity, payload.MinStock,
		payload.OccurredAt.Format("02/01/2006 15:04"))
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.from, payload.To, subject, body)
	if err := smtp.SendMail(m.addr, nil, m.from, []string{payload.To}, []byte(msg)); err != nil {
		return fmt.Errorf("jobs: send low stock mail: %w", err)
	}
	m.logger.Info("low stock alert sent",
		slog.String("to", payload.To),
		slog.Int64("product_id", payload.ProductID),
		slog.Int64("store_id", payload.StoreID))
	return nil
}
