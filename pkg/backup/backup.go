package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"HibiscusHood/pkg/logger"
)

// Config 数据库备份配置
type Config struct {
	Driver string // sqlite / mysql
	DSN    string
	Dir    string // 备份文件目录
	Keep   int    // 保留最近多少份，0 表示不清理
}

// Job 返回挂到进程 cron 上的备份任务
func Job(cfg Config) func(ctx context.Context) {
	return func(ctx context.Context) {
		if err := Execute(ctx, cfg); err != nil {
			logger.Warn("database backup failed", zap.Error(err))
			return
		}
		logger.Info("database backup completed", zap.String("dir", cfg.Dir))
	}
}

// Execute 按驱动执行一次备份，随后按保留份数清理旧文件
func Execute(ctx context.Context, cfg Config) error {
	if cfg.Dir == "" {
		cfg.Dir = "backups"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	stamp := time.Now().Format("20060102_150405")
	var err error
	switch cfg.Driver {
	case "sqlite":
		err = backupSQLite(cfg.DSN, filepath.Join(cfg.Dir, "hood_backup_"+stamp+".db"))
	case "mysql":
		err = backupMySQL(ctx, cfg.DSN, filepath.Join(cfg.Dir, "hood_backup_"+stamp+".sql"))
	default:
		return fmt.Errorf("unsupported backup driver: %s", cfg.Driver)
	}
	if err != nil {
		return err
	}
	return pruneOld(cfg.Dir, cfg.Keep)
}

// sqlitePath 从 DSN 提取文件路径，内存库返回空
func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return ""
	}
	return p
}

func backupSQLite(dsn, dst string) error {
	src := sqlitePath(dsn)
	if src == "" {
		return fmt.Errorf("sqlite dsn %q is not file-backed", dsn)
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open database file: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy database file: %w", err)
	}
	return out.Sync()
}

func backupMySQL(ctx context.Context, dsn, dst string) error {
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer out.Close()

	// mysqldump 自己不认 go 的 dsn，这里只透传数据库名；
	// 连接参数走 ~/.my.cnf
	cmd := exec.CommandContext(ctx, "mysqldump", databaseName(dsn))
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("mysqldump: %w", err)
	}
	return nil
}

// databaseName 取 go-sql-driver dsn 里 "/" 与 "?" 之间的库名
func databaseName(dsn string) string {
	name := dsn
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return name
}

func pruneOld(dir string, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := filepath.Glob(filepath.Join(dir, "hood_backup_*"))
	if err != nil {
		return err
	}
	if len(entries) <= keep {
		return nil
	}
	sort.Strings(entries) // 时间戳命名，字典序即时间序
	for _, old := range entries[:len(entries)-keep] {
		if err := os.Remove(old); err != nil {
			logger.Warn("remove old backup failed", zap.String("file", old), zap.Error(err))
		}
	}
	return nil
}
