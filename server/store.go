package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// schema 首次启动时建表；全部 IF NOT EXISTS，重复执行无害
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	owner_id   TEXT,
	level      INTEGER NOT NULL DEFAULT 1,
	hunger     INTEGER NOT NULL DEFAULT 100,
	hygiene    INTEGER NOT NULL DEFAULT 100,
	energy     INTEGER NOT NULL DEFAULT 100,
	fun        INTEGER NOT NULL DEFAULT 100,
	lng        REAL NOT NULL DEFAULT 0,
	lat        REAL NOT NULL DEFAULT 0,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pets_owner ON pets(owner_id);
CREATE INDEX IF NOT EXISTS idx_pets_geo ON pets(lat, lng);

CREATE TABLE IF NOT EXISTS scheduler_lease (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);
`

// Store SQLite 持久层：宠物、用户与调度器租约
type Store struct {
	db *sql.DB
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

// OpenStore 打开（必要时创建）SQLite 库并初始化 schema
// path 传 ":memory:" 时为纯内存库，测试用
func OpenStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// 内存库没有共享缓存：连接池必须收敛到单连接，否则每个连接各一张空库
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close 关闭数据库句柄
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// --- 用户 ---

// CreateUser 插入新用户；用户名已存在时返回 ErrDuplicate
func (s *Store) CreateUser(ctx context.Context, u User) error {
	if _, err := s.GetUserByName(ctx, u.Name); err == nil {
		return fmt.Errorf("user %q: %w", u.Name, ErrDuplicate)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		string(u.ID), u.Name, u.PasswordHash, toMillis(u.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUserByName 按用户名取用户
func (s *Store) GetUserByName(ctx context.Context, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, password_hash, created_at FROM users WHERE name = ?`, name)
	return scanUser(row)
}

// GetUser 按 ID 取用户
func (s *Store) GetUser(ctx context.Context, id UserID) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, password_hash, created_at FROM users WHERE id = ?`, string(id))
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var id string
	var createdAt int64
	if err := row.Scan(&id, &u.Name, &u.PasswordHash, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.ID = UserID(id)
	u.CreatedAt = fromMillis(createdAt)
	return &u, nil
}

// --- 宠物 ---

const petColumns = `id, name, owner_id, level, hunger, hygiene, energy, fun, lng, lat, version, created_at, updated_at`

// CreatePet 插入宠物记录（ID、时间戳由调用方填好）
func (s *Store) CreatePet(ctx context.Context, p *Pet) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pets (`+petColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.ID), p.Name, nullableOwner(p.OwnerID), p.Level,
		p.Stats.Hunger, p.Stats.Hygiene, p.Stats.Energy, p.Stats.Fun,
		p.Location.Lng(), p.Location.Lat(), p.Version,
		toMillis(p.CreatedAt), toMillis(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert pet: %w", err)
	}
	return nil
}

// GetPet 按 ID 取宠物；不存在时返回 ErrNotFound
func (s *Store) GetPet(ctx context.Context, id PetID) (*Pet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+petColumns+` FROM pets WHERE id = ?`, string(id))
	p, err := scanPet(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

// DeletePet 删除宠物；不存在时返回 ErrNotFound
func (s *Store) DeletePet(ctx context.Context, id PetID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM pets WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("delete pet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPets 全量（或按 owner 过滤）读取宠物，Tick 的全表扫描入口
func (s *Store) ListPets(ctx context.Context, owner UserID) ([]Pet, error) {
	query := `SELECT ` + petColumns + ` FROM pets ORDER BY created_at`
	args := []any{}
	if owner != "" {
		query = `SELECT ` + petColumns + ` FROM pets WHERE owner_id = ? ORDER BY created_at`
		args = append(args, string(owner))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pets: %w", err)
	}
	defer rows.Close()

	var pets []Pet
	for rows.Next() {
		p, err := scanPet(rows.Scan)
		if err != nil {
			return nil, err
		}
		pets = append(pets, *p)
	}
	return pets, rows.Err()
}

// UpdatePetStats 带版本检查的属性写入
// expectedVersion 不匹配时返回 ErrVersionConflict，由调用方决定跳过还是报错
func (s *Store) UpdatePetStats(ctx context.Context, id PetID, stats StatVector, expectedVersion int64) (int64, time.Time, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pets SET hunger = ?, hygiene = ?, energy = ?, fun = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		stats.Hunger, stats.Hygiene, stats.Energy, stats.Fun, toMillis(now),
		string(id), expectedVersion)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("update pet stats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("update pet stats: %w", err)
	}
	if n == 0 {
		// 区分「不存在」与「版本被抢先」
		if _, err := s.GetPet(ctx, id); errors.Is(err, ErrNotFound) {
			return 0, time.Time{}, ErrNotFound
		}
		return 0, time.Time{}, ErrVersionConflict
	}
	return expectedVersion + 1, now, nil
}

// RenamePet 改名并推进版本；不存在时返回 ErrNotFound
func (s *Store) RenamePet(ctx context.Context, id PetID, name string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pets SET name = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		name, toMillis(now), string(id))
	if err != nil {
		return fmt.Errorf("rename pet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePetLocation 写入新坐标并推进版本
func (s *Store) UpdatePetLocation(ctx context.Context, id PetID, lat, lng float64) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pets SET lat = ?, lng = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		lat, lng, toMillis(now), string(id))
	if err != nil {
		return fmt.Errorf("update pet location: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// NearbyPets 以 (lat, lng) 为圆心、radius 米为半径的邻近查询，按距离升序
// 先用经纬度包围盒走索引粗筛，再用 haversine 精筛并排序
func (s *Store) NearbyPets(ctx context.Context, lat, lng, radius float64) ([]PetView, error) {
	latDelta := radius / 111320.0
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01 // 极区附近退化为近全经度扫描
	}
	lngDelta := radius / (111320.0 * cosLat)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+petColumns+` FROM pets WHERE lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		lat-latDelta, lat+latDelta, lng-lngDelta, lng+lngDelta)
	if err != nil {
		return nil, fmt.Errorf("nearby pets: %w", err)
	}
	defer rows.Close()

	type scored struct {
		view PetView
		dist float64
	}
	var hits []scored
	for rows.Next() {
		p, err := scanPet(rows.Scan)
		if err != nil {
			return nil, err
		}
		d := haversineMeters(lat, lng, p.Location.Lat(), p.Location.Lng())
		if d <= radius {
			hits = append(hits, scored{view: p.View(), dist: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	views := make([]PetView, 0, len(hits))
	for _, h := range hits {
		views = append(views, h.view)
	}
	return views, nil
}

// haversineMeters 球面距离（米）
func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371000.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadius * math.Asin(math.Sqrt(a))
}

func scanPet(scan func(...any) error) (*Pet, error) {
	var p Pet
	var id string
	var owner sql.NullString
	var lng, lat float64
	var createdAt, updatedAt int64
	err := scan(&id, &p.Name, &owner, &p.Level,
		&p.Stats.Hunger, &p.Stats.Hygiene, &p.Stats.Energy, &p.Stats.Fun,
		&lng, &lat, &p.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan pet: %w", err)
	}
	p.ID = PetID(id)
	if owner.Valid {
		p.OwnerID = UserID(owner.String)
	}
	p.Location = NewGeoPoint(lng, lat)
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	return &p, nil
}

func nullableOwner(id UserID) any {
	if id == "" {
		return nil
	}
	return string(id)
}

// --- 调度器租约 ---

// AcquireLease 以 compare-and-swap 方式抢占命名租约，供跨进程互斥
// 返回 true 表示本进程在 ttl 内独占该租约；持有者续租同样走这里
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expires := toMillis(now.Add(ttl))

	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduler_lease SET holder = ?, expires_at = ?
		 WHERE name = ? AND (holder = ? OR expires_at <= ?)`,
		holder, expires, name, holder, toMillis(now))
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	res, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduler_lease (name, holder, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, holder, expires)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return n > 0, nil
}

// ReleaseLease 仅持有者可释放；他人持有时为 no-op
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scheduler_lease WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
