package services

import (
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ScribblerCoder/ctfd-whale/database"
	"github.com/ScribblerCoder/ctfd-whale/models"
)

// setupTestDB 用内存 sqlite 替换全局 DB。whale_instance / whale_challenge
// 的 enum 列类型是 MySQL 方言，这两张表用手写 DDL 建。
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	// 内存库按连接隔离，收到一条连接上
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec(`CREATE TABLE whale_instance (
		id integer PRIMARY KEY AUTOINCREMENT,
		user_id integer NOT NULL UNIQUE,
		challenge_id integer NOT NULL,
		start_time datetime NOT NULL,
		renew_count integer DEFAULT 0,
		status text DEFAULT 'alive',
		uuid text NOT NULL UNIQUE,
		port integer DEFAULT 0,
		flag text NOT NULL)`).Error; err != nil {
		t.Fatalf("create whale_instance: %v", err)
	}
	if err := db.Exec(`CREATE TABLE whale_challenge (
		id integer PRIMARY KEY AUTOINCREMENT,
		challenge_name text NOT NULL UNIQUE,
		category text,
		author text,
		description text,
		state text DEFAULT 'hidden',
		docker_image text NOT NULL,
		memory_limit text DEFAULT '128m',
		cpu_limit real DEFAULT 0.5,
		redirect_type text,
		redirect_port integer DEFAULT 0,
		flag_mode text DEFAULT 'dynamic',
		flag_static_prefix text,
		static_flag text,
		initial_score integer DEFAULT 500,
		min_score integer DEFAULT 100,
		current_score integer DEFAULT 500,
		decay_ratio real DEFAULT 0.1,
		solved_count integer DEFAULT 0,
		created_at datetime,
		updated_at datetime)`).Error; err != nil {
		t.Fatalf("create whale_challenge: %v", err)
	}
	if err := db.AutoMigrate(
		&models.SolvedFlag{},
		&models.CheatingAttempt{},
		&models.Submission{},
		&models.Setting{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	database.DB = db
	t.Cleanup(func() { database.DB = nil })
	return db
}

// fakeEngine 是一个只记账不真调 docker 的 Provisioner。
type fakeEngine struct {
	provisions   []string
	teardowns    []string
	provisionErr error
	teardownErr  error
}

func (f *fakeEngine) Provision(inst *models.Instance, challenge *models.Challenge) error {
	if f.provisionErr != nil {
		return f.provisionErr
	}
	f.provisions = append(f.provisions, inst.EngineKey())
	return nil
}

func (f *fakeEngine) Teardown(inst *models.Instance) error {
	if f.teardownErr != nil {
		return f.teardownErr
	}
	f.teardowns = append(f.teardowns, inst.EngineKey())
	return nil
}

func createTestChallenge(t *testing.T, name string, mode models.FlagMode) *models.Challenge {
	t.Helper()
	challenge := &models.Challenge{
		ChallengeName: name,
		DockerImage:   "ctf/" + name + ":latest",
		FlagMode:      mode,
		State:         models.ChallengeStateVisible,
	}
	if err := database.DB.Create(challenge).Error; err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	return challenge
}
