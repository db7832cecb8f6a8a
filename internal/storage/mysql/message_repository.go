package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"

	driver "github.com/go-sql-driver/mysql"

	xerrors "AutoAgent/internal/errors"
	"AutoAgent/internal/message"
)

const (
	upsertMessageSQL = `INSERT INTO agent_messages
        (id, run_id, type, task_id, value, status, info, final, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE status = VALUES(status), info = VALUES(info), final = VALUES(final), updated_at = VALUES(updated_at)`

	listMessagesSQL = `SELECT id, type, task_id, value, status, info, final, created_at, updated_at
        FROM agent_messages WHERE run_id = ? ORDER BY seq ASC`
)

// MySQL 中可以重试的错误号：死锁与锁等待超时。
const (
	errDeadlock        = 1213
	errLockWaitTimeout = 1205
)

// MessageRepository 把运行中的消息写入 agent_messages 表。
//
// 同一 ID 的消息重复保存时覆盖其可变字段，因此 SaveMessages 是幂等的。
type MessageRepository struct {
	db *sql.DB
}

// NewMessageRepository 建立连接池并执行迁移。
func NewMessageRepository(ctx context.Context, cfg Config) (*MessageRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 MySQL 失败")
	}
	if err := runMigrations(ctx, db, embeddedMigrations); err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行数据库迁移失败")
	}
	return &MessageRepository{db: db}, nil
}

// NewMessageRepositoryWithDB 使用已有连接创建仓库，不执行迁移。
func NewMessageRepositoryWithDB(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// SaveMessages 在一个事务中写入或更新一批消息。
func (r *MessageRepository) SaveMessages(ctx context.Context, runID string, msgs []message.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if strings.TrimSpace(runID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run_id 不能为空")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError(err, "开启事务失败")
	}
	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx, upsertMessageSQL,
			msg.ID,
			runID,
			string(msg.Type),
			msg.TaskID,
			msg.Value,
			string(msg.Status),
			msg.Info,
			msg.Final,
			msg.CreatedAt,
			msg.UpdatedAt,
		); err != nil {
			tx.Rollback()
			return storageError(err, fmt.Sprintf("写入消息 %s 失败", msg.ID))
		}
	}
	if err := tx.Commit(); err != nil {
		return storageError(err, "提交消息失败")
	}
	return nil
}

// ListByRun 按写入顺序返回一次运行的全部消息。
func (r *MessageRepository) ListByRun(ctx context.Context, runID string) ([]message.Message, error) {
	rows, err := r.db.QueryContext(ctx, listMessagesSQL, runID)
	if err != nil {
		return nil, storageError(err, "查询消息失败")
	}
	defer rows.Close()

	var msgs []message.Message
	for rows.Next() {
		var (
			msg  message.Message
			typ  string
			stat string
			info sql.NullString
		)
		if err := rows.Scan(&msg.ID, &typ, &msg.TaskID, &msg.Value, &stat, &info, &msg.Final, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
			return nil, storageError(err, "解析消息失败")
		}
		msg.Type = message.Type(typ)
		msg.Status = message.Status(stat)
		msg.Info = info.String
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError(err, "遍历消息失败")
	}
	return msgs, nil
}

// Close 关闭底层数据库连接。
func (r *MessageRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func storageError(err error, msg string) error {
	var mysqlErr *driver.MySQLError
	retryable := stdErrors.As(err, &mysqlErr) && (mysqlErr.Number == errDeadlock || mysqlErr.Number == errLockWaitTimeout)
	opts := []xerrors.Option{xerrors.WithRetryable(retryable)}
	if mysqlErr != nil {
		opts = append(opts, xerrors.WithMetadata("mysql_errno", fmt.Sprint(mysqlErr.Number)))
	}
	return xerrors.Wrap(xerrors.CodeStorageFailure, err, msg, opts...)
}
