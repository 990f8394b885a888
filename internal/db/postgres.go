package db

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chatelio/chatelio-backend/internal/logger"
	"github.com/chatelio/chatelio-backend/internal/types"
	"github.com/chatelio/chatelio-backend/internal/utils"
)

// Connect opens the postgres pool from DATABASE_URL (or the discrete PG*
// variables when unset) and tunes the pool the same way for every binary.
func Connect(log *logger.Logger) (*gorm.DB, error) {
	dsn := utils.GetEnv("DATABASE_URL", "", log)
	if dsn == "" {
		host := utils.GetEnv("PGHOST", "localhost", log)
		port := utils.GetEnv("PGPORT", "5432", log)
		user := utils.GetEnv("PGUSER", "postgres", log)
		pass := utils.GetEnv("PGPASSWORD", "postgres", log)
		name := utils.GetEnv("PGDATABASE", "chatelio", log)
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, user, pass, name)
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(utils.GetEnvAsInt("DB_MAX_OPEN_CONNS", 25, log))
	sqlDB.SetMaxIdleConns(utils.GetEnvAsInt("DB_MAX_IDLE_CONNS", 10, log))
	sqlDB.SetConnMaxLifetime(time.Duration(utils.GetEnvAsInt("DB_CONN_MAX_LIFETIME_MIN", 30, log)) * time.Minute)

	log.Info("postgres connected")
	return gdb, nil
}

// AutoMigrateAll creates/updates every table, then lays down the FK
// constraints with raw DDL since we keep gorm associations out of the models.
func AutoMigrateAll(gdb *gorm.DB, log *logger.Logger) error {
	if err := gdb.AutoMigrate(
		&types.Company{},
		&types.CompanyUser{},
		&types.GuestSession{},
		&types.KnowledgeBase{},
		&types.Document{},
		&types.Chat{},
		&types.Message{},
	); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}

	fks := []string{
		`ALTER TABLE company_user ADD CONSTRAINT fk_company_user_company FOREIGN KEY (company_id) REFERENCES company(id)`,
		`ALTER TABLE guest_session ADD CONSTRAINT fk_guest_session_company FOREIGN KEY (company_id) REFERENCES company(id)`,
		`ALTER TABLE knowledge_base ADD CONSTRAINT fk_knowledge_base_company FOREIGN KEY (company_id) REFERENCES company(id)`,
		`ALTER TABLE document ADD CONSTRAINT fk_document_kb FOREIGN KEY (knowledge_base_id) REFERENCES knowledge_base(id)`,
		`ALTER TABLE document ADD CONSTRAINT fk_document_company FOREIGN KEY (company_id) REFERENCES company(id)`,
		`ALTER TABLE chat ADD CONSTRAINT fk_chat_company FOREIGN KEY (company_id) REFERENCES company(id)`,
		`ALTER TABLE chat ADD CONSTRAINT fk_chat_user FOREIGN KEY (user_id) REFERENCES company_user(id)`,
		`ALTER TABLE chat ADD CONSTRAINT fk_chat_session FOREIGN KEY (session_id) REFERENCES guest_session(id)`,
		`ALTER TABLE message ADD CONSTRAINT fk_message_chat FOREIGN KEY (chat_id) REFERENCES chat(id)`,
	}
	for _, ddl := range fks {
		if err := gdb.Exec(ddl).Error; err != nil {
			// Re-running migrations hits "already exists"; not worth failing boot.
			log.Debug("fk constraint skipped", "error", err.Error())
		}
	}
	return nil
}
