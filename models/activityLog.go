package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/stockbook_backend/config"
	"bitbucket.org/mmdatafocus/stockbook_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityLog is the append-only audit record for every lifecycle
// transition. Write-only from the core's perspective; the activity feed UI
// reads it.
type ActivityLog struct {
	ID            int       `gorm:"primary_key" json:"id"`
	Action        string    `gorm:"size:20;not null" json:"action"`
	Message       string    `gorm:"type:text;not null" json:"message"`
	ReferenceID   int       `gorm:"index" json:"reference_id"`
	ReferenceType string    `gorm:"size:50" json:"reference_type"`
	UserId        int       `gorm:"index" json:"user_id"`
	UserEmail     string    `gorm:"size:255" json:"user_email"`
	Timestamp     time.Time `gorm:"autoCreateTime" json:"timestamp"`
}

// ActivityEventRecord is the transactional outbox row behind ActivityLog.
// It is written inside the caller's DB transaction but NOT published to
// Pub/Sub there; the outbox dispatcher publishes asynchronously after
// commit, with retries and a DEAD terminal state for poison rows.
type ActivityEventRecord struct {
	ID               int        `gorm:"primary_key" json:"id"`
	Message          string     `gorm:"type:text;not null" json:"message"`
	ReferenceId      int        `gorm:"index" json:"reference_id"`
	ReferenceType    string     `gorm:"size:50" json:"reference_type"`
	UserId           int        `json:"user_id"`
	UserEmail        string     `gorm:"size:255" json:"user_email"`
	Timestamp        time.Time  `json:"timestamp"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	IsProcessed      bool       `gorm:"default:false" json:"is_processed"`
	PublishStatus    string     `gorm:"size:20;default:PENDING;index" json:"publish_status"`
	PublishAttempts  int        `gorm:"default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// LogActivity writes the audit row and its outbox twin inside the caller's
// transaction. Activity logging is best-effort: callers log the returned
// error and continue, they never abort the business transition for it.
func LogActivity(tx *gorm.DB, ctx context.Context, action ActivityAction, referenceId int, referenceType string, message string) error {
	userId, _ := utils.GetUserIdFromContext(ctx)
	userEmail, _ := utils.GetUserEmailFromContext(ctx)
	now := time.Now().UTC()

	log := ActivityLog{
		Action:        string(action),
		Message:       message,
		ReferenceID:   referenceId,
		ReferenceType: referenceType,
		UserId:        userId,
		UserEmail:     userEmail,
		Timestamp:     now,
	}
	if err := tx.Create(&log).Error; err != nil {
		return err
	}

	record := ActivityEventRecord{
		Message:       message,
		ReferenceId:   referenceId,
		ReferenceType: referenceType,
		UserId:        userId,
		UserEmail:     userEmail,
		Timestamp:     now,
		CorrelationId: correlationIdFromContextOrNew(ctx),
		PublishStatus: OutboxPublishStatusPending,
	}
	return tx.Create(&record).Error
}

func ConvertToActivityEvent(record ActivityEventRecord) config.ActivityEvent {
	return config.ActivityEvent{
		ID:            record.ID,
		Message:       record.Message,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		UserId:        record.UserId,
		UserEmail:     record.UserEmail,
		Timestamp:     record.Timestamp,
		CorrelationId: record.CorrelationId,
	}
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func GetActivityLogs(ctx context.Context, referenceType *string, limit int) ([]*ActivityLog, error) {
	db := config.GetDB()
	var logs []*ActivityLog

	dbCtx := db.WithContext(ctx).Model(&ActivityLog{})
	if referenceType != nil && *referenceType != "" {
		dbCtx = dbCtx.Where("reference_type = ?", *referenceType)
	}
	if limit <= 0 {
		limit = config.SearchLimit
	}
	if err := dbCtx.Order("id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
