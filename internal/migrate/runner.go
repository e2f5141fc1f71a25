package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Runner 按版本号顺序执行 NNNN_xxx_up.sql
type Runner struct {
	Dir string
	// FS 非空时优先于 Dir
	FS     fs.FS
	Logger *zap.Logger
}

// Migration 一个向上迁移文件
type Migration struct {
	Version int64
	Name    string
	Path    string
}

const ensureTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    name       TEXT,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Discover 扫描 *_up.sql，按版本排序；版本重复视为错误
func Discover(fsys fs.FS) ([]Migration, error) {
	var out []Migration
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := path.Base(p)
		if !strings.HasSuffix(base, "_up.sql") {
			return nil
		}
		prefix, rest, ok := strings.Cut(base, "_")
		if !ok {
			return nil
		}
		ver, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return nil
		}
		out = append(out, Migration{Version: ver, Name: strings.TrimSuffix(rest, "_up.sql"), Path: p})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	for i := 1; i < len(out); i++ {
		if out[i].Version == out[i-1].Version {
			return nil, fmt.Errorf("duplicate migration version %d", out[i].Version)
		}
	}
	return out, nil
}

func (r Runner) fsys() (fs.FS, error) {
	if r.FS != nil {
		return r.FS, nil
	}
	if r.Dir == "" {
		return nil, errors.New("migrations dir is empty")
	}
	return os.DirFS(r.Dir), nil
}

// Up 执行未应用的迁移，返回本次应用的数量
func (r Runner) Up(ctx context.Context, db *pgxpool.Pool) (int, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	fsys, err := r.fsys()
	if err != nil {
		return 0, err
	}
	ups, err := Discover(fsys)
	if err != nil {
		return 0, err
	}
	if _, err := db.Exec(ctx, ensureTable); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, m := range ups {
		if applied[m.Version] {
			continue
		}
		content, err := fs.ReadFile(fsys, m.Path)
		if err != nil {
			return n, err
		}
		err = pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(content)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, `INSERT INTO schema_migrations(version, name) VALUES($1,$2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return n, fmt.Errorf("migration %d %s: %w", m.Version, m.Name, err)
		}
		log.Info("migration applied", zap.Int64("version", m.Version), zap.String("name", m.Name))
		n++
	}
	return n, nil
}

func appliedVersions(ctx context.Context, db *pgxpool.Pool) (map[int64]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	vs, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	res := make(map[int64]bool, len(vs))
	for _, v := range vs {
		res[v] = true
	}
	return res, nil
}
